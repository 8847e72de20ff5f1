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
	"github.com/larmo-project/larmo/crypto/keys"
)

var (
	requestKeyType    string
	requestKeyFile    string
	requestCommonName string
	requestCertOut    string
	requestRootOut    string
	requestTimeout    time.Duration
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Obtain a client certificate from the daemon",
	Long: `Request a certificate over a password-authenticated session. The CSR is
built from the given key; the issued certificate and the daemon's root
certificate are written as PEM files.`,
	Example: `  larmo-cert request --key client-key.pem --cn living-room \
      --address 192.168.1.10:5915 --password secret`,
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().StringVarP(&requestKeyFile, "key", "k", "client-key.pem", "Private key PEM file")
	requestCmd.Flags().StringVarP(&requestKeyType, "type", "t", "ed25519", "Key type of the key file (ed25519, rsa)")
	requestCmd.Flags().StringVar(&requestCommonName, "cn", "larmo-client", "Certificate common name")
	requestCmd.Flags().StringVar(&requestCertOut, "cert-out", "client-cert.pem", "Issued certificate output file")
	requestCmd.Flags().StringVar(&requestRootOut, "root-out", "root-cert.pem", "Root certificate output file")
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", time.Minute, "Exchange timeout")
}

func runRequest(cmd *cobra.Command, args []string) error {
	pw, err := sharedPassword()
	if err != nil {
		return err
	}
	alg, err := keyAlgorithm(requestKeyType)
	if err != nil {
		return err
	}
	kp, err := keys.FromPemFile(alg, requestKeyFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := certexchange.NewClient(serverNetwork, serverAddress, pw)
	bundle, err := client.ObtainCertificate(ctx, kp, certs.CommonName(requestCommonName))
	if err != nil {
		return err
	}

	if err := bundle.Client.Serialize(requestCertOut); err != nil {
		return err
	}
	if err := bundle.Root.Serialize(requestRootOut); err != nil {
		return err
	}

	hash, err := bundle.Root.GetHash()
	if err != nil {
		return err
	}
	fmt.Printf("Wrote certificate to %s (root %s, hash %x)\n",
		requestCertOut, requestRootOut, hash)
	return nil
}
