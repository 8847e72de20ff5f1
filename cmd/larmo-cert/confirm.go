// Copyright (C) 2025 larmo-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/larmo-project/larmo/core/certexchange"
	"github.com/larmo-project/larmo/crypto/certs"
)

var (
	confirmRootFile string
	confirmTimeout  time.Duration
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a cached root certificate against the daemon",
	Long: `Hash the locally cached root certificate and ask the daemon whether it
still matches its certificate authority.`,
	RunE: runConfirm,
}

func init() {
	rootCmd.AddCommand(confirmCmd)

	confirmCmd.Flags().StringVar(&confirmRootFile, "root", "root-cert.pem", "Cached root certificate PEM file")
	confirmCmd.Flags().DurationVar(&confirmTimeout, "timeout", time.Minute, "Exchange timeout")
}

func runConfirm(cmd *cobra.Command, args []string) error {
	pw, err := sharedPassword()
	if err != nil {
		return err
	}
	root, err := certs.Deserialize(confirmRootFile)
	if err != nil {
		return err
	}
	hash, err := root.GetHash()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()

	client := certexchange.NewClient(serverNetwork, serverAddress, pw)
	match, err := client.ConfirmRootHash(ctx, hash)
	if err != nil {
		return err
	}
	if !match {
		return fmt.Errorf("root certificate hash does not match the daemon's authority")
	}
	fmt.Println("Root certificate confirmed")
	return nil
}
