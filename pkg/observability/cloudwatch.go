package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// CloudWatchAPI is the subset of the CloudWatch client used here
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics records server-side tree operations in CloudWatch.
// A nil client disables it.
type CloudWatchMetrics struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger
	timeout   time.Duration
}

// NewCloudWatchMetrics creates a new metrics instance
func NewCloudWatchMetrics(namespace string, client CloudWatchAPI, logger *zap.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchMetrics{namespace: namespace, client: client, logger: logger, timeout: 2 * time.Second}
}

// ObserveTreeSave implements services.SaveObserver
func (m *CloudWatchMetrics) ObserveTreeSave(operation, result string, d time.Duration) {
	if m == nil || m.client == nil {
		return
	}
	now := time.Now()
	dims := []types.Dimension{
		{Name: aws.String("Operation"), Value: aws.String(operation)},
		{Name: aws.String("Result"), Value: aws.String(result)},
	}
	m.put([]types.MetricDatum{
		{
			MetricName: aws.String("TreeOperationLatency"),
			Dimensions: dims,
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  aws.Time(now),
		},
		{
			MetricName: aws.String("TreeOperationCount"),
			Dimensions: dims,
			Value:      aws.Float64(1),
			Unit:       types.StandardUnitCount,
			Timestamp:  aws.Time(now),
		},
	})
}

// RecordTreeSize records the node and edge counts of a stored tree
func (m *CloudWatchMetrics) RecordTreeSize(nodes, edges int) {
	if m == nil || m.client == nil {
		return
	}
	now := time.Now()
	m.put([]types.MetricDatum{
		{MetricName: aws.String("TreeNodes"), Value: aws.Float64(float64(nodes)), Unit: types.StandardUnitCount, Timestamp: aws.Time(now)},
		{MetricName: aws.String("TreeEdges"), Value: aws.Float64(float64(edges)), Unit: types.StandardUnitCount, Timestamp: aws.Time(now)},
	})
}

func (m *CloudWatchMetrics) put(data []types.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}); err != nil {
		m.logger.Warn("Failed to send metrics", zap.Error(err))
	}
}

// SaveObservers fans one observation out to several observers
type SaveObservers []interface {
	ObserveTreeSave(operation, result string, d time.Duration)
}

// ObserveTreeSave implements services.SaveObserver
func (o SaveObservers) ObserveTreeSave(operation, result string, d time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveTreeSave(operation, result, d)
		}
	}
}
