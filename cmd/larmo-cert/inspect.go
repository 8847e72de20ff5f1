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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/larmo-project/larmo/crypto/certs"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <certificate.pem>",
	Short: "Print subject, issuer, serial and hash of a certificate",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cert, err := certs.Deserialize(args[0])
	if err != nil {
		return err
	}

	printName := func(label string, name certs.Name) {
		fmt.Printf("%s:\n", label)
		for _, e := range name {
			fmt.Printf("  %s = %s\n", e.Key, e.Value)
		}
	}
	printName("Subject", cert.GetSubjectName())
	printName("Issuer", cert.GetIssuerName())
	fmt.Printf("Serial: %s\n", cert.SerialNumber())
	fmt.Printf("Not after: %s\n", cert.NotAfter())

	hash, err := cert.GetHash()
	if err != nil {
		return err
	}
	fmt.Printf("SHA-256: %x\n", hash)
	return nil
}
