package ports

type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)
}

type Field struct {
	Key   string
	Value any
}

// Metric names shared by the core and the Prometheus adapter.
const (
	MetricSamplesRead       = "aegis_spark_samples_read_total"
	MetricSamplesAccepted   = "aegis_spark_samples_accepted_total"
	MetricSamplesSuppressed = "aegis_spark_samples_suppressed_total"
	MetricDeviceReadErrors  = "aegis_spark_device_read_errors_total"
	MetricMessagesSent      = "aegis_spark_messages_sent_total"
	MetricHistoricalSent    = "aegis_spark_historical_sent_total"
	MetricBirthsSent        = "aegis_spark_births_total"
	MetricDeathsSent        = "aegis_spark_deaths_total"
	MetricSendFailures      = "aegis_spark_send_failures_total"
	MetricMessagesBuffered  = "aegis_spark_messages_buffered_total"
	MetricStorageErrors     = "aegis_spark_storage_errors_total"
	MetricReconnects        = "aegis_spark_reconnects_total"
	MetricSendLatency       = "aegis_spark_send_latency_seconds"
	MetricBufferSizeBytes   = "aegis_spark_buffer_size_bytes"
	MetricBufferMessages    = "aegis_spark_buffer_messages"
	MetricBufferDropped     = "aegis_spark_buffer_dropped"
	MetricBufferOldestAge   = "aegis_spark_buffer_oldest_age_seconds"
	MetricSessionState      = "aegis_spark_session_state"
)
