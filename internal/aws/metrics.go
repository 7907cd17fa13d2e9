package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric is one business datapoint. Dimensions become CloudWatch dimensions.
type Metric struct {
	Name       string
	Value      float64
	Unit       cwtypes.StandardUnit
	Dimensions map[string]string
	At         time.Time
}

// Metrics publishes datapoints under a single namespace.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
}

func NewMetrics(cw CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{CloudWatch: cw, Namespace: namespace}
}

// Put sends all datapoints in one PutMetricData call.
func (m *Metrics) Put(ctx context.Context, metrics ...Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	data := make([]cwtypes.MetricDatum, 0, len(metrics))
	for _, mt := range metrics {
		unit := mt.Unit
		if unit == "" {
			unit = cwtypes.StandardUnitCount
		}
		at := mt.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		d := cwtypes.MetricDatum{
			MetricName: awsString(mt.Name),
			Value:      awsFloat(mt.Value),
			Unit:       unit,
			Timestamp:  &at,
		}
		for k, v := range mt.Dimensions {
			d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
		}
		data = append(data, d)
	}
	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.Namespace,
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func awsFloat(f float64) *float64 { return &f }
