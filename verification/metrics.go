package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type verifierMetrics struct {
	verifications *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
}

func newVerifierMetrics(factory promauto.Factory, namespace string) *verifierMetrics {
	return &verifierMetrics{
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Number of evidence verifications by result code.",
			},
			[]string{"code"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verification_outcomes_total",
				Help:      "Number of quote verification outcomes reported by the verification service.",
			},
			[]string{"outcome"},
		),
	}
}
