package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisionRuns counts decision service units of work by outcome.
	decisionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_decision_runs_total",
		Help: "Decision service units of work by service and status",
	}, []string{"service", "status"})

	reasoningDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "growth_reasoning_call_duration_seconds",
		Help:    "Reasoning service call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"run_type", "status"})

	deliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_delivery_attempts_total",
		Help: "Delivery queue attempts by sink and result",
	}, []string{"sink", "result"})

	similarityRefresh = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_similarity_refresh_accounts_total",
		Help: "Accounts processed by similarity refresh by result",
	}, []string{"result"})

	memoryWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_memory_writes_total",
		Help: "Agent memory writes by run type and result",
	}, []string{"run_type", "result"})
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DecisionRun records one unit of work (account, rep or request) for a service.
func DecisionRun(service, outcome string) {
	decisionRuns.WithLabelValues(service, outcome).Inc()
}

// ObserveReasoning records the latency of one reasoning call.
func ObserveReasoning(runType string, started time.Time, err error) {
	reasoningDuration.WithLabelValues(runType, status(err)).Observe(time.Since(started).Seconds())
}

func DeliveryAttempt(sink, result string) {
	deliveryAttempts.WithLabelValues(sink, result).Inc()
}

func SimilarityRefresh(err error) {
	similarityRefresh.WithLabelValues(status(err)).Inc()
}

func MemoryWrite(runType string, err error) {
	memoryWrites.WithLabelValues(runType, status(err)).Inc()
}
