// Package metrics exposes Prometheus counters for the registration and
// scan paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RegistrationsCreated counts successful registrations.
	RegistrationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrpass_registrations_created_total",
		Help: "Number of registrations created.",
	})

	// RegistrationsCancelled counts cancelled registrations.
	RegistrationsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrpass_registrations_cancelled_total",
		Help: "Number of registrations cancelled.",
	})

	// Scans counts scan attempts by outcome.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrpass_scans_total",
		Help: "Number of scan attempts by outcome.",
	}, []string{"result"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
