package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type HarnessMetrics struct {
	Operations        *prometheus.CounterVec
	OperationFailures *prometheus.CounterVec
	WaitTimeouts      *prometheus.CounterVec
}

var (
	harnessMetrics     *HarnessMetrics
	harnessMetricsLock sync.Mutex
)

// GetHarnessMetrics returns the process-wide harness metrics, registering
// them on first use.
func GetHarnessMetrics() *HarnessMetrics {
	harnessMetricsLock.Lock()

	if harnessMetrics != nil {
		harnessMetricsLock.Unlock()
		return harnessMetrics
	}

	harnessMetrics = newHarnessMetrics()

	harnessMetricsLock.Unlock()
	return harnessMetrics
}

func newHarnessMetrics() *HarnessMetrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_ops_total",
		Help: "Number of node lifecycle operations issued, by operation.",
	}, []string{"op"})
	operationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_op_failures_total",
		Help: "Number of node lifecycle operations that failed, by operation.",
	}, []string{"op"})
	waitTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_wait_timeouts_total",
		Help: "Number of convergence waits that reached their deadline, by wait label.",
	}, []string{"label"})

	prometheus.MustRegister(operations, operationFailures, waitTimeouts)

	return &HarnessMetrics{
		Operations:        operations,
		OperationFailures: operationFailures,
		WaitTimeouts:      waitTimeouts,
	}
}
