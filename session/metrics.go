// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wildfire_sessions_current",
			Help: "Current number of registered sessions",
		},
		[]string{"kind"},
	)

	sessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildfire_sessions_closed_total",
			Help: "Total number of sessions removed from the registry",
		},
		[]string{"kind"},
	)

	idleServerSessionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wildfire_idle_server_sessions_closed_total",
			Help: "Total number of server sessions closed by the idle sweep",
		},
	)
)
