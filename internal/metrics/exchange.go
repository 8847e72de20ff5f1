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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsAccepted tracks connections accepted by the exchange server
	SessionsAccepted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "accepted_total",
			Help:      "Total number of accepted exchange sessions",
		},
	)

	// SessionsActive tracks currently live sessions
	SessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of currently active exchange sessions",
		},
	)

	// SessionsClosed tracks sessions swept by final state
	SessionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Total number of closed exchange sessions by final state",
		},
		[]string{"state"},
	)

	// CertificatesIssued tracks certificates minted over the exchange
	CertificatesIssued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "certificates_issued_total",
			Help:      "Total number of certificates issued",
		},
	)

	// ConfirmRequests tracks root-hash confirmation requests by outcome
	ConfirmRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "confirm_requests_total",
			Help:      "Total number of root hash confirmations by outcome",
		},
		[]string{"match"},
	)

	// RequestErrors tracks requests answered with an error code
	RequestErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "request_errors_total",
			Help:      "Total number of requests answered with an error code",
		},
		[]string{"code"},
	)
)
