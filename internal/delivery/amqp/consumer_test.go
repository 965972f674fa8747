package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqplib "github.com/rabbitmq/amqp091-go"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

type fakeChannel struct {
	acked     []uint64
	nacked    []uint64
	requeued  []bool
	published []amqplib.Publishing
	keys      []string
}

func (f *fakeChannel) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = append(f.requeued, requeue)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqplib.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"request_id":"r1","name":"a.lua","content":"cHJpbnQoMSk="}`, false},
		{"not json", `print(1)`, true},
		{"missing id", `{"name":"a.lua","content":"cHJpbnQoMSk="}`, true},
		{"content not base64", `{"request_id":"r1","name":"a.lua","content":"%%%"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeRequest([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && string(req.Content) != "print(1)" {
				t.Errorf("unexpected content %q", req.Content)
			}
		})
	}
}

func TestDecodeRequest_MissingFieldIsInvalidRequest(t *testing.T) {
	_, err := decodeRequest([]byte(`{"request_id":"r1"}`))
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestJobMessage_ReplyAndAck(t *testing.T) {
	ch := &fakeChannel{}
	delivery := amqplib.Delivery{DeliveryTag: 7, ReplyTo: "amq.rabbitmq.reply-to", CorrelationId: "corr-1"}
	msg := newJobMessage(ch, delivery, &domain.ObfuscationRequest{RequestID: "r1", Name: "a.lua"})

	if msg.Reply == nil {
		t.Fatal("expected a reply hook when ReplyTo is set")
	}
	result := domain.Failed("job-1", domain.CategoryTimeout, "tool did not finish")
	if err := msg.Reply(context.Background(), result); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if err := msg.Ack(); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if len(ch.published) != 1 || ch.keys[0] != "amq.rabbitmq.reply-to" {
		t.Fatalf("expected one reply to the reply queue, got %v", ch.keys)
	}
	pub := ch.published[0]
	if pub.CorrelationId != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %q", pub.CorrelationId)
	}
	var got domain.InvocationResult
	if err := json.Unmarshal(pub.Body, &got); err != nil {
		t.Fatalf("reply body: %v", err)
	}
	if got.Category != domain.CategoryTimeout || got.JobID != "job-1" {
		t.Errorf("unexpected reply %+v", got)
	}
	if len(ch.acked) != 1 || ch.acked[0] != 7 {
		t.Errorf("expected ack of tag 7, got %v", ch.acked)
	}
}

func TestJobMessage_NoReplyTo(t *testing.T) {
	ch := &fakeChannel{}
	msg := newJobMessage(ch, amqplib.Delivery{DeliveryTag: 3}, &domain.ObfuscationRequest{RequestID: "r1", Name: "a.lua"})

	if msg.Reply != nil {
		t.Error("no reply hook expected without ReplyTo")
	}
	if err := msg.Nack(true); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if len(ch.nacked) != 1 || !ch.requeued[0] {
		t.Errorf("expected requeueing nack, got %v %v", ch.nacked, ch.requeued)
	}
}

func TestJobMessage_CorrelationDefaultsToRequestID(t *testing.T) {
	ch := &fakeChannel{}
	msg := newJobMessage(ch, amqplib.Delivery{ReplyTo: "replies"}, &domain.ObfuscationRequest{RequestID: "r9", Name: "a.lua"})

	if err := msg.Reply(context.Background(), domain.Failed("j", domain.CategoryUnknown, "x")); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if ch.published[0].CorrelationId != "r9" {
		t.Errorf("expected request id as correlation id, got %q", ch.published[0].CorrelationId)
	}
}
