package aws

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const defaultNamespace = "CheckoutReconcile"

// Metrics publishes counters to CloudWatch. Failures are logged and dropped.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetrics returns a CloudWatch-backed counter sink.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// IncCounter records a single count for name.
func (m *Metrics) IncCounter(ctx context.Context, name string) {
	one := 1.0
	now := m.nowFunc()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: awsString(name),
			Value:      &one,
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
		}},
	})
	if err != nil {
		log.Printf("[metrics] put %s: %v", name, err)
	}
}
