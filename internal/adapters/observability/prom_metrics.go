package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ghalamif/AegisSpark/internal/ports"
)

// PromObs implements ports.Observability with zap for logs and Prometheus
// collectors for counters, gauges and latency histograms.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the gateway collectors on reg. A nil logger discards
// log output and a nil registerer uses the default registry.
func NewPromObs(logger *zap.Logger, reg prometheus.Registerer) (*PromObs, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromObs{
		log:      logger,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Observer),
	}

	counters := map[string]string{
		ports.MetricSamplesRead:       "Samples read from field devices.",
		ports.MetricSamplesAccepted:   "Samples that passed the deadband filter.",
		ports.MetricSamplesSuppressed: "Samples suppressed by the deadband filter.",
		ports.MetricDeviceReadErrors:  "Failed device reads.",
		ports.MetricMessagesSent:      "Data messages delivered to the broker.",
		ports.MetricHistoricalSent:    "Buffered messages replayed after a reconnect.",
		ports.MetricBirthsSent:        "Birth announcements sent.",
		ports.MetricDeathsSent:        "Death announcements sent.",
		ports.MetricSendFailures:      "Failed publish attempts.",
		ports.MetricMessagesBuffered:  "Messages appended to the durable buffer.",
		ports.MetricStorageErrors:     "Durable buffer I/O failures.",
		ports.MetricReconnects:        "Broker sessions re-established after a loss.",
	}
	for name, help := range counters {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		if err := reg.Register(c); err != nil {
			return nil, err
		}
		p.counters[name] = c
	}

	gauges := map[string]string{
		ports.MetricBufferSizeBytes: "Payload bytes held in the durable buffer.",
		ports.MetricBufferMessages:  "Messages held in the durable buffer.",
		ports.MetricBufferDropped:   "Messages evicted from the durable buffer since start.",
		ports.MetricBufferOldestAge: "Age of the oldest buffered message.",
		ports.MetricSessionState:    "Session state: 0 disconnected, 1 connecting, 2 live, 3 draining backlog.",
	}
	for name, help := range gauges {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		if err := reg.Register(g); err != nil {
			return nil, err
		}
		p.gauges[name] = g
	}

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricSendLatency,
		Help:    "Broker publish latency.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	if err := reg.Register(latency); err != nil {
		return nil, err
	}
	p.histos[ports.MetricSendLatency] = latency

	return p, nil
}

// Logger exposes the underlying zap logger.
func (p *PromObs) Logger() *zap.Logger { return p.log }

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, zapFields(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

// LogCritical is logged at error level with a critical marker; it never exits.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
