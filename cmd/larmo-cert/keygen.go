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

	"github.com/larmo-project/larmo/crypto/keys"
)

var (
	keygenType string
	keygenOut  string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key pair",
	Example: `  # Generate an Ed25519 key
  larmo-cert keygen --type ed25519 --out client-key.pem

  # Generate an RSA-2048 key
  larmo-cert keygen --type rsa --out client-key.pem`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVarP(&keygenType, "type", "t", "ed25519", "Key type (ed25519, rsa)")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "client-key.pem", "Private key output file")
}

func keyAlgorithm(name string) (*keys.Algorithm, error) {
	switch name {
	case "ed25519":
		return keys.Ed25519(), nil
	case "rsa":
		return keys.RSA(), nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", name)
	}
}

func runKeygen(cmd *cobra.Command, args []string) error {
	alg, err := keyAlgorithm(keygenType)
	if err != nil {
		return err
	}
	kp, err := keys.Generate(alg)
	if err != nil {
		return err
	}
	if err := kp.ToPemFilePrivKey(keygenOut); err != nil {
		return err
	}
	fmt.Printf("Wrote %s private key to %s\n", kp.Type(), keygenOut)
	return nil
}
