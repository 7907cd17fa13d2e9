package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/aws"
	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/idempotency"
)

// MetricsSink receives the datapoints derived from each event.
type MetricsSink interface {
	Put(ctx context.Context, metrics ...aws.Metric) error
}

// Processor turns order lifecycle events into business metrics. Delivery is
// at least once, so each event id is claimed in the idempotency store
// before its metrics are emitted.
type Processor struct {
	idem    idempotency.Store
	metrics MetricsSink
	log     logrus.FieldLogger
}

// NewProcessor creates a worker processor. idem may be nil to disable
// deduplication.
func NewProcessor(idem idempotency.Store, metrics MetricsSink, log logrus.FieldLogger) *Processor {
	return &Processor{idem: idem, metrics: metrics, log: log}
}

// Handle processes an SQS batch and reports the messages that failed so
// only those are redelivered.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var resp lambdaevents.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).WithField("message_id", rec.MessageId).Error("worker error")
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec lambdaevents.SQSMessage) error {
	var ev events.Event
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return fmt.Errorf("message %s: event id and type are required", rec.MessageId)
	}
	log := p.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type, "order_id": ev.OrderID})

	key := "event#" + ev.ID
	if p.idem != nil {
		created, err := p.idem.CreateIfNotExists(ctx, key, ev.OrderID)
		if err != nil {
			return fmt.Errorf("claim event %s: %w", ev.ID, err)
		}
		if !created {
			existing, err := p.idem.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("read event %s: %w", ev.ID, err)
			}
			if existing != nil && existing.Status == idempotency.StatusInProgress {
				return fmt.Errorf("event %s is being processed by another worker", ev.ID)
			}
			log.Info("duplicate event skipped")
			return nil
		}
	}

	metrics, err := MetricsFor(ev)
	if err == nil {
		err = p.metrics.Put(ctx, metrics...)
	}
	if err != nil {
		if p.idem != nil {
			if ferr := p.idem.MarkFailed(ctx, key, err.Error()); ferr != nil {
				log.WithError(ferr).Warn("mark event failed")
			}
		}
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}

	if p.idem != nil {
		if err := p.idem.MarkDone(ctx, key, "", http.StatusOK); err != nil {
			log.WithError(err).Warn("mark event done")
		}
	}
	log.WithField("metrics", len(metrics)).Info("event processed")
	return nil
}

// MetricsFor maps one event to the datapoints it contributes.
func MetricsFor(ev events.Event) ([]aws.Metric, error) {
	at := ev.OccurredAt
	switch ev.Type {
	case events.OrderPlaced:
		ms := []aws.Metric{{Name: "OrdersPlaced", Value: 1, At: at}}
		if ev.Amount != "" {
			amount, err := decimal.NewFromString(ev.Amount)
			if err != nil {
				return nil, fmt.Errorf("order amount %q: %w", ev.Amount, err)
			}
			ms = append(ms, aws.Metric{Name: "OrderRevenue", Value: amount.InexactFloat64(), Unit: cwtypes.StandardUnitNone, At: at})
		}
		return ms, nil
	case events.OrderStatusChanged:
		switch domain.OrderStatus(ev.Status) {
		case domain.OrderCancelled:
			return []aws.Metric{{Name: "OrdersCancelled", Value: 1, At: at}}, nil
		case domain.OrderReturned:
			return []aws.Metric{{Name: "OrdersReturned", Value: 1, At: at}}, nil
		}
		return []aws.Metric{{Name: "OrderStatusChanged", Value: 1, At: at, Dimensions: map[string]string{"Status": ev.Status}}}, nil
	case events.ReturnRequested:
		return []aws.Metric{{Name: "ReturnsRequested", Value: 1, At: at}}, nil
	case events.ReturnStatusChanged:
		return []aws.Metric{{Name: "ReturnStatusChanged", Value: 1, At: at, Dimensions: map[string]string{"Status": ev.Status}}}, nil
	case events.StockChanged:
		if ev.Stock != nil && *ev.Stock == 0 {
			return []aws.Metric{{Name: "ProductsSoldOut", Value: 1, At: at}}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown event type %q", ev.Type)
}
