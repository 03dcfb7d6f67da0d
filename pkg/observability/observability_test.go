package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observers(t *testing.T) {
	c := NewCollector("test")

	c.ObserveTreeSave("put", "success", 10*time.Millisecond)
	c.ObserveTreeSave("put", "error", time.Millisecond)
	c.ObserveToolCall("add_node", "ok", time.Microsecond)
	c.ObserveTransition("listening", "awaiting_response")
	c.ObserveAudioFlush(4800)
	c.ObserveAudioFlush(200)
	c.ObserveResponseRequest("commit")
	c.ObserveHTTP(http.MethodGet, "/api/v1/trees/{userID}", http.StatusOK, time.Millisecond)

	body := scrape(t, c)
	for _, line := range []string{
		`test_tree_operations_total{operation="put",result="success"} 1`,
		`test_tree_operations_total{operation="put",result="error"} 1`,
		`test_tool_calls_total{result="ok",tool="add_node"} 1`,
		`test_turn_transitions_total{from="listening",to="awaiting_response"} 1`,
		`test_audio_flushed_bytes_total 5000`,
		`test_response_requests_total{kind="commit"} 1`,
		`test_http_requests_total{method="GET",route="/api/v1/trees/{userID}",status="200"} 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.ObserveResponseRequest("followup")

	body := scrape(t, c)
	assert.True(t, strings.Contains(body, `test_response_requests_total{kind="followup"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

type fakeCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchMetrics(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := NewCloudWatchMetrics("LearnGraph", fake, nil)

	m.ObserveTreeSave("put", "success", 25*time.Millisecond)
	m.RecordTreeSize(4, 3)

	require.Len(t, fake.inputs, 2)
	assert.Equal(t, "LearnGraph", aws.ToString(fake.inputs[0].Namespace))
	require.Len(t, fake.inputs[0].MetricData, 2)
	assert.Equal(t, "TreeOperationLatency", aws.ToString(fake.inputs[0].MetricData[0].MetricName))
	assert.Equal(t, 25.0, aws.ToFloat64(fake.inputs[0].MetricData[0].Value))
	assert.Equal(t, 4.0, aws.ToFloat64(fake.inputs[1].MetricData[0].Value))

	fake.err = errors.New("throttled")
	assert.NotPanics(t, func() { m.ObserveTreeSave("get", "error", time.Millisecond) })
}

func TestCloudWatchMetrics_Disabled(t *testing.T) {
	var nilMetrics *CloudWatchMetrics
	assert.NotPanics(t, func() { nilMetrics.ObserveTreeSave("put", "success", 0) })
	assert.NotPanics(t, func() { NewCloudWatchMetrics("ns", nil, nil).RecordTreeSize(1, 1) })
}

func TestSaveObservers_FanOut(t *testing.T) {
	c := NewCollector("fan")
	fake := &fakeCloudWatch{}
	obs := SaveObservers{c, NewCloudWatchMetrics("ns", fake, nil), nil}

	obs.ObserveTreeSave("put", "success", time.Millisecond)

	assert.Contains(t, scrape(t, c), `fan_tree_operations_total{operation="put",result="success"} 1`)
	assert.Len(t, fake.inputs, 1)
}

func TestTracer_Disabled(t *testing.T) {
	tracer, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)

	called := false
	err = tracer.TraceFunction(context.Background(), "op", func(ctx context.Context) error {
		called = true
		return errors.New("boom")
	})
	assert.True(t, called)
	assert.EqualError(t, err, "boom")
	assert.NoError(t, tracer.Shutdown(context.Background()))
	assert.NoError(t, NoopTracer().TraceFunction(context.Background(), "noop", func(context.Context) error { return nil }))
}
