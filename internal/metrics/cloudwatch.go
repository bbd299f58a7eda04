package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shopcraft/storefront/internal/awsx"
	log "github.com/sirupsen/logrus"
)

const Namespace = "Storefront/Checkout"

// Metric names surfaced to operators. Degraded-atomicity checkouts must
// be visible, never silently treated as equivalent to the primary path.
const (
	MetricFallbackEngaged = "CheckoutFallbackEngaged"
	MetricPartialCommit   = "CheckoutPartialCommit"
)

// Emitter publishes operational counters to CloudWatch. A nil Emitter or
// a nil client is a no-op, so tests and local runs need no stub.
type Emitter struct {
	client  awsx.CloudWatchAPI
	nowFunc func() time.Time
}

func NewEmitter(client awsx.CloudWatchAPI) *Emitter {
	return &Emitter{client: client, nowFunc: time.Now}
}

// Count publishes a single unit increment of the named metric. Metric
// delivery is best-effort; a failed put is logged, never propagated into
// the checkout call.
func (e *Emitter) Count(ctx context.Context, name string) {
	if e == nil || e.client == nil {
		return
	}
	now := e.nowFunc()
	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(Namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Value:      awsFloat(1),
			},
		},
	})
	if err != nil {
		log.WithError(err).WithField("metric", name).Warn("failed to publish metric")
	}
}

func awsString(s string) *string  { return &s }
func awsFloat(f float64) *float64 { return &f }
