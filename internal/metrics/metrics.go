package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Sessions        *prometheus.GaugeVec
	OpenSOS         prometheus.Gauge
	SOSCreated      *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	DroppedEvents   prometheus.Counter
	GeofenceAlerts  *prometheus.CounterVec
	ExpiredSessions *prometheus.CounterVec
}

// New registers the hub collectors on reg. Pass prometheus.DefaultRegisterer in
// the service and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safetyhub_sessions",
			Help: "Current number of registered sessions by role",
		}, []string{"role"}),
		OpenSOS: f.NewGauge(prometheus.GaugeOpts{
			Name: "safetyhub_sos_open",
			Help: "Current number of active or acknowledged SOS signals",
		}),
		SOSCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetyhub_sos_created_total",
			Help: "Total SOS signals created by help type",
		}, []string{"help_type"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetyhub_commands_total",
			Help: "Inbound commands by type and outcome",
		}, []string{"type", "outcome"}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "safetyhub_events_dropped_total",
			Help: "Outbound events dropped because the receiving connection was full or gone",
		}),
		GeofenceAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetyhub_geofence_alerts_total",
			Help: "Zone entry alerts by severity",
		}, []string{"severity"}),
		ExpiredSessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetyhub_sessions_expired_total",
			Help: "Sessions removed by the liveness sweep by role",
		}, []string{"role"}),
	}
}

func (m *Metrics) ObserveCommand(cmdType, outcome string) {
	m.Commands.WithLabelValues(cmdType, outcome).Inc()
}

func (m *Metrics) SetSessions(subjects, observers int) {
	m.Sessions.WithLabelValues("subject").Set(float64(subjects))
	m.Sessions.WithLabelValues("observer").Set(float64(observers))
}

func (m *Metrics) SetOpenSOS(n int) {
	m.OpenSOS.Set(float64(n))
}
