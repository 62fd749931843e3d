package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.stepTransitions)
	assert.NotNil(t, collector.dispatchDuration)
	assert.NotNil(t, collector.workProducts)
	assert.NotNil(t, collector.conflicts)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/healthz", 200, 10*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/input", 404, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/input", "4xx")))
}

func TestCollector_StepMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStepTransition("agent-1", "PENDING", "RUNNING")
	collector.RecordStepTransition("agent-1", "PENDING", "RUNNING")
	collector.RecordDispatch("SEARCH", "completed", 200*time.Millisecond)
	collector.RecordClassification("TRANSIENT", "execution")
	collector.RecordRecovery("plugin_fault", true)
	collector.RecordRecovery("plugin_fault", false)
	collector.RecordDroppedEdge()

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.stepTransitions.WithLabelValues("agent-1", "PENDING", "RUNNING")))
	assert.Greater(t, testutil.CollectAndCount(collector.dispatchDuration), 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.classifications.WithLabelValues("TRANSIENT", "execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.recoveries.WithLabelValues("plugin_fault", "recovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.recoveries.WithLabelValues("plugin_fault", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.droppedEdges))
}

func TestCollector_WorkProductAndConflictMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordWorkProduct("Final", "AgentOutput")
	collector.RecordUpload(true)
	collector.RecordUpload(false)
	collector.RecordConflict("created")
	collector.RecordVote()
	collector.RecordVote()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workProducts.WithLabelValues("Final", "AgentOutput")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.fileUploads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.fileUploads.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.conflicts.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.votes))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var collector *Collector
	assert.NotPanics(t, func() {
		collector.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		collector.RecordStepTransition("a", "PENDING", "RUNNING")
		collector.RecordDispatch("op", "completed", time.Millisecond)
		collector.RecordClassification("PERMANENT", "none")
		collector.RecordRecovery("x", true)
		collector.RecordDroppedEdge()
		collector.RecordWorkProduct("Interim", "AgentStep")
		collector.RecordUpload(true)
		collector.RecordConflict("resolved")
		collector.RecordVote()
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordStepTransition("agent-1", "RUNNING", "COMPLETED")
			collector.RecordVote()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.stepTransitions.WithLabelValues("agent-1", "RUNNING", "COMPLETED")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.votes))
}
