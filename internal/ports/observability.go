package ports

// Metric names understood by Observability implementations.
const (
	PollsTotal             = "aegis_polls_total"
	PollFailuresTotal      = "aegis_poll_failures_total"
	PollLatency            = "aegis_poll_latency_seconds"
	PollingMissedTotal     = "aegis_polling_missed_total"
	RecordingsTotal        = "aegis_recordings_total"
	RecordingFailuresTotal = "aegis_recording_failures_total"
	RecordingRejectedTotal = "aegis_recording_rejected_total"
	RecordingMissedTotal   = "aegis_recording_missed_total"
	RecordingLatency       = "aegis_recording_latency_seconds"
	WorkerDeathsTotal      = "aegis_worker_deaths_total"
	SensorValue            = "aegis_sensor_value"
)

type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	// IncCounter and ObserveLatency are labelled by sensor group.
	IncCounter(name, group string, v float64)
	ObserveLatency(name, group string, seconds float64)

	// SetGauge is labelled by metric name.
	SetGauge(name, metric string, v float64)
}

type Field struct {
	Key   string
	Value any
}
