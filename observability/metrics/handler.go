package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default Prometheus registry, the one Governance()
// registers into.
func Handler() http.Handler {
	return promhttp.Handler()
}
