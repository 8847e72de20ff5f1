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
	"os"

	"github.com/spf13/cobra"
)

var (
	serverNetwork string
	serverAddress string
	password      string
)

var rootCmd = &cobra.Command{
	Use:   "larmo-cert",
	Short: "Larmo certificate client",
	Long: `larmo-cert talks to a larmo-certd daemon over a password-authenticated
SPEKE session: generate key pairs, obtain client certificates, and confirm
the daemon's root certificate hash.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&serverNetwork, "network", "tcp", "Server network (tcp, unix)")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "address", "a", "127.0.0.1:5915", "Server address")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Shared password (default: LARMO_PASSWORD)")
}

func sharedPassword() (string, error) {
	if password != "" {
		return password, nil
	}
	if env := os.Getenv("LARMO_PASSWORD"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no password given (use --password or LARMO_PASSWORD)")
}
