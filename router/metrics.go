// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stanzasRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildfire_stanzas_routed_total",
			Help: "Total number of stanzas passed through the routing table",
		},
		[]string{"kind", "outcome"},
	)

	routesCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wildfire_routes_current",
			Help: "Current number of installed routes",
		},
		[]string{"kind"},
	)

	resultTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wildfire_iq_result_timeouts_total",
			Help: "Total number of IQ result listeners expired by the sweep",
		},
	)

	interceptorRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildfire_interceptor_rejections_total",
			Help: "Total number of stanzas refused by an interceptor",
		},
		[]string{"kind"},
	)

	messagesStoredOffline = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wildfire_messages_stored_offline_total",
			Help: "Total number of messages handed to the offline strategy",
		},
	)

	multicastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildfire_multicast_deliveries_total",
			Help: "Total number of copies produced by multicast fan-out",
		},
		[]string{"mode"},
	)

	multicastDiscoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wildfire_multicast_discoveries_total",
			Help: "Total number of settled multicast capability discoveries",
		},
		[]string{"result"},
	)
)
