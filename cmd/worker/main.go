package main

import (
	"context"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/app"
	"github.com/imrishuroy/orderflow/internal/aws"
	"github.com/imrishuroy/orderflow/internal/config"
	"github.com/imrishuroy/orderflow/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	a := app.New(cfg, log)
	defer a.Close()

	idem, err := a.OpenIdempotency(ctx)
	if err != nil {
		log.WithError(err).Fatal("open idempotency store")
	}
	clients, err := a.AWS(ctx)
	if err != nil {
		log.WithError(err).Fatal("init aws clients")
	}
	p := NewProcessor(idem, aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace), log)

	// If RUN_LOCAL=true, process a single simulated SQS message and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"id":"local-event-1","type":"order.placed","order_id":"local-order-1","amount":"10.00"}`
		}
		resp, err := p.Handle(ctx, lambdaevents.SQSEvent{
			Records: []lambdaevents.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.WithError(err).Fatal("local handler error")
		}
		return
	}

	lambda.Start(p.Handle)
}
