// Package metrics exposes Prometheus counters for write, reclamation,
// eviction, and disk-quota activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts write_once outcomes per database: "installed",
	// "not_installed" (CAS miss or producer failure), or "error".
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vkvstore_writes_total",
			Help: "Total number of write_once calls by database and outcome",
		},
		[]string{"db", "outcome"},
	)

	// ClearRuns counts VSM.Clear() invocations per database from the
	// maintenance loop.
	ClearRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vkvstore_clear_runs_total",
			Help: "Total number of VSM reclamation passes run by database",
		},
		[]string{"db"},
	)

	// QuotaRuns counts MDM.EnforceDiskQuota() passes that actually reclaimed
	// (i.e. usage exceeded the ceiling).
	QuotaRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vkvstore_disk_quota_runs_total",
			Help: "Total number of disk-quota enforcement passes that reclaimed space",
		},
	)

	// VSMEvictions counts VSM cache evictions from MDM's bounded dbName
	// cache (idle timeout or LRU capacity), including the purge of every
	// resident VSM in MDM.Close.
	VSMEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vkvstore_vsm_evictions_total",
			Help: "Total number of VSMs evicted from the MDM cache",
		},
	)
)
