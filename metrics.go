package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unauthorizedLogoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memory_vault_client",
			Name:      "unauthorized_logouts_total",
			Help:      "Sessions ended because the backend rejected the credential.",
		},
	)

	supersededLoadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memory_vault_client",
			Name:      "superseded_loads_total",
			Help:      "Load responses discarded because a newer load was issued.",
		},
	)

	deleteRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memory_vault_client",
			Name:      "delete_rollbacks_total",
			Help:      "Optimistic removals restored after a backend failure.",
		},
	)

	favoriteSyncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memory_vault_client",
			Name:      "favorite_sync_failures_total",
			Help:      "Favorite changes the backend never accepted.",
		},
		[]string{"shard"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memory_vault_client",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes by target state.",
		},
		[]string{"state"},
	)
)
