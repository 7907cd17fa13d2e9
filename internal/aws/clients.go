package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Endpoints overrides the base endpoint of individual services. An empty
// field keeps whatever the shared config resolves, so AWS_ENDPOINT_OVERRIDE
// still applies to services not named here.
type Endpoints struct {
	DynamoDB   string
	SQS        string
	CloudWatch string
}

// Clients holds the service clients the stores, publishers and worker use.
type Clients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// LoadClients reads the shared AWS config and builds every client from it.
func LoadClients(ctx context.Context, ep Endpoints) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewClients(cfg, ep), nil
}

// NewClients builds the clients from an already loaded config.
func NewClients(cfg sdkaws.Config, ep Endpoints) *Clients {
	return &Clients{
		DynamoDB: dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if ep.DynamoDB != "" {
				o.BaseEndpoint = sdkaws.String(ep.DynamoDB)
			}
		}),
		SQS: sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			if ep.SQS != "" {
				o.BaseEndpoint = sdkaws.String(ep.SQS)
			}
		}),
		CloudWatch: cloudwatch.NewFromConfig(cfg, func(o *cloudwatch.Options) {
			if ep.CloudWatch != "" {
				o.BaseEndpoint = sdkaws.String(ep.CloudWatch)
			}
		}),
	}
}
