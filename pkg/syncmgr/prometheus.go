package syncmgr

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in monitoring service.
var (
	peersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of registered peers",
			Name:      "sync_peers",
			Namespace: "divid",
		},
	)
	preferredPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of peers eligible to serve initial block download",
			Name:      "sync_preferred_download_peers",
			Namespace: "divid",
		},
	)
	syncingPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of peers headers sync was started with",
			Name:      "sync_started_peers",
			Namespace: "divid",
		},
	)
	blocksRequested = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of outstanding block requests",
			Name:      "sync_blocks_in_flight",
			Namespace: "divid",
		},
	)
	validatedHeadersRequested = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of outstanding block requests with validated headers",
			Name:      "sync_queued_validated_headers",
			Namespace: "divid",
		},
	)
	stallsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of times the download planner attributed a stall to a peer",
			Name:      "sync_stall_attributions_total",
			Namespace: "divid",
		},
	)
)

func init() {
	prometheus.MustRegister(
		peersConnected,
		preferredPeers,
		syncingPeers,
		blocksRequested,
		validatedHeadersRequested,
		stallsDetected,
	)
}

func updatePeerCountMetric(n int) {
	peersConnected.Set(float64(n))
}

func updatePreferredDownloadMetric(n int) {
	preferredPeers.Set(float64(n))
}

func updateSyncStartedMetric(n int) {
	syncingPeers.Set(float64(n))
}

func updateBlocksInFlightMetric(n int) {
	blocksRequested.Set(float64(n))
}

func updateQueuedValidatedHeadersMetric(n int) {
	validatedHeadersRequested.Set(float64(n))
}

func incStallAttributionsMetric() {
	stallsDetected.Inc()
}
