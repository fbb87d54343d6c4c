package download

import "github.com/prometheus/client_golang/prometheus"

const (
	routeInternal = "internal"
	routeExternal = "external"
)

var downloadBytes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "procflow_download_bytes_total",
		Help: "Total bytes downloaded into execution workdirs, by route.",
	},
	[]string{"route"},
)

func init() {
	prometheus.MustRegister(downloadBytes)
}
