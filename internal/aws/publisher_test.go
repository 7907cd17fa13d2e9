package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestSendOrderMessage_StandardQueue(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.us-east-1.amazonaws.com/123/order-events")

	err := p.SendOrderMessage(context.Background(), `{"id":"e1"}`, map[string]string{
		"event_id": "e1",
		"order_id": "o1",
		"empty":    "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.inputs))
	}
	in := mock.inputs[0]
	if *in.MessageBody != `{"id":"e1"}` {
		t.Fatalf("body mismatch: %s", *in.MessageBody)
	}
	if _, ok := in.MessageAttributes["empty"]; ok {
		t.Fatalf("empty attribute should be skipped")
	}
	if *in.MessageAttributes["order_id"].StringValue != "o1" {
		t.Fatalf("order_id attribute mismatch")
	}
	if in.MessageGroupId != nil {
		t.Fatalf("standard queue must not get a message group")
	}
}

func TestSendOrderMessage_FifoQueue(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.us-east-1.amazonaws.com/123/order-events.fifo")

	if err := p.SendOrderMessage(context.Background(), "{}", map[string]string{"event_id": "e2", "order_id": "o2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := mock.inputs[0]
	if in.MessageGroupId == nil || *in.MessageGroupId != "o2" {
		t.Fatalf("expected group o2, got %v", in.MessageGroupId)
	}
	if in.MessageDeduplicationId == nil || *in.MessageDeduplicationId != "e2" {
		t.Fatalf("expected dedup id e2, got %v", in.MessageDeduplicationId)
	}
}

func TestSendOrderMessage_Error(t *testing.T) {
	p := NewPublisher(&mockSQS{err: errors.New("boom")}, "q")
	if err := p.SendOrderMessage(context.Background(), "{}", nil); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestMetricsPut(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewMetrics(cw, "OrderFlow")

	err := m.Put(context.Background(),
		Metric{Name: "OrdersPlaced", Value: 1},
		Metric{Name: "OrderRevenue", Value: 50, Unit: "None", Dimensions: map[string]string{"Currency": "USD"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected a single call, got %d", len(cw.inputs))
	}
	in := cw.inputs[0]
	if *in.Namespace != "OrderFlow" || len(in.MetricData) != 2 {
		t.Fatalf("unexpected input: %+v", in)
	}
	if in.MetricData[0].Unit != "Count" {
		t.Fatalf("default unit should be Count, got %s", in.MetricData[0].Unit)
	}
	if len(in.MetricData[1].Dimensions) != 1 {
		t.Fatalf("dimension missing")
	}

	if err := m.Put(context.Background()); err != nil || len(cw.inputs) != 1 {
		t.Fatalf("empty put should be a no-op")
	}
}
