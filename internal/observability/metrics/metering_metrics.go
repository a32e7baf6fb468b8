package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	MeteringDecisionAdmitted      = "admitted"
	MeteringDecisionQuotaExceeded = "quota_exceeded"
	MeteringDecisionNotFound      = "not_found"
	MeteringDecisionError         = "error"
	MeteringDecisionReleased      = "released"
)

// MeteringMetrics counts usage gate decisions.
type MeteringMetrics struct {
	decisions *prometheus.CounterVec
}

func NewMeteringMetrics(cfg Config) (*MeteringMetrics, error) {
	return NewMeteringMetricsWithRegisterer(prometheus.DefaultRegisterer, cfg)
}

func NewMeteringMetricsWithRegisterer(registerer prometheus.Registerer, cfg Config) (*MeteringMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contextswitch_metering_decisions_total",
		Help: "Usage gate decisions by outcome.",
		ConstLabels: prometheus.Labels{
			"service": defaultLabel(cfg.ServiceName, "contextswitch"),
			"env":     defaultLabel(cfg.Environment, "unknown"),
		},
	}, []string{"decision"})

	decisions, err := registerOrReuse(registerer, decisions)
	if err != nil {
		return nil, err
	}
	return &MeteringMetrics{decisions: decisions}, nil
}

func (m *MeteringMetrics) IncDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}
