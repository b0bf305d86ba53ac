package worker

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"allocator/internal/amqp"
	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/metrics"
	"allocator/internal/plans"
	"allocator/internal/plans/memory"
	"allocator/internal/services"
)

// brokenSource fails every load.
type brokenSource struct{ plans.Source }

func (brokenSource) LoadPlan(context.Context, string) (core.Plan, error) {
	return nil, errors.New("disk on fire")
}

func newWorker(source plans.Source) (*AllocationWorker, *metrics.Metrics) {
	logger := log.New(log.Config{Component: log.ComponentWorker, Output: io.Discard})
	m := metrics.New()
	svc := services.NewAllocationService(source, services.Options{
		DefaultPlan: memory.DefaultPlanName,
		Metrics:     m,
		Logger:      logger,
	})
	return NewAllocationWorker(svc, logger, m), m
}

func TestHandleRequest(t *testing.T) {
	store := memory.NewWithDefaults()
	if err := store.SavePlan(context.Background(), "empty", core.Plan{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w, m := newWorker(store)

	tests := []struct {
		name     string
		plan     string
		amount   string
		wantKind string
	}{
		{"default plan", "", "100,000", ""},
		{"invalid amount", "", "abc", amqp.ErrorKindInvalidAmount},
		{"negative amount", "", "-5", amqp.ErrorKindInvalidAmount},
		{"unknown plan", "missing", "100", amqp.ErrorKindNotFound},
		{"empty plan", "empty", "100", amqp.ErrorKindEmptyPlan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := amqp.NewAllocationRequest(tt.plan, tt.amount)
			reply, err := w.HandleRequest(context.Background(), msg)
			if err != nil {
				t.Fatalf("HandleRequest() error = %v", err)
			}
			if reply.RequestID != msg.RequestID {
				t.Fatalf("request id = %q, want %q", reply.RequestID, msg.RequestID)
			}
			if reply.ErrorKind != tt.wantKind {
				t.Fatalf("error kind = %q, want %q (%s)", reply.ErrorKind, tt.wantKind, reply.Error)
			}
			if tt.wantKind == "" {
				if !reply.OK() || reply.Result.TotalAmount != 100000 || len(reply.Result.Entries) != 3 {
					t.Fatalf("unexpected reply: %+v", reply)
				}
				if reply.Plan != memory.DefaultPlanName {
					t.Errorf("plan = %q", reply.Plan)
				}
			} else if reply.OK() || reply.Error == "" {
				t.Fatalf("expected an error reply, got %+v", reply)
			}
		})
	}

	if got := testutil.ToFloat64(m.AMQPMessages.WithLabelValues(metrics.OutcomeOK)); got != 1 {
		t.Errorf("ok messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AMQPMessages.WithLabelValues(metrics.OutcomeInvalidAmount)); got != 2 {
		t.Errorf("invalid_amount messages = %v, want 2", got)
	}
}

func TestHandleRequestSourceFailure(t *testing.T) {
	w, m := newWorker(brokenSource{memory.NewWithDefaults()})
	reply, err := w.HandleRequest(context.Background(), amqp.NewAllocationRequest("", "100"))
	if err == nil || reply != nil {
		t.Fatalf("expected an error for a failing source, got %+v, %v", reply, err)
	}
	if got := testutil.ToFloat64(m.AMQPMessages.WithLabelValues(metrics.OutcomeError)); got != 1 {
		t.Errorf("error messages = %v, want 1", got)
	}
}

type fakeConsumer struct {
	requests []*amqp.AllocationRequestMessage
	replies  []*amqp.AllocationReplyMessage
	handled  chan struct{}
}

func (f *fakeConsumer) ConsumeAllocationRequests(ctx context.Context, handler amqp.RequestHandler) error {
	for _, r := range f.requests {
		reply, err := handler(ctx, r)
		if err != nil {
			return err
		}
		f.replies = append(f.replies, reply)
	}
	close(f.handled)
	<-ctx.Done()
	return ctx.Err()
}

func TestRun(t *testing.T) {
	w, _ := newWorker(memory.NewWithDefaults())
	consumer := &fakeConsumer{
		requests: []*amqp.AllocationRequestMessage{
			amqp.NewAllocationRequest("", "1000"),
			amqp.NewAllocationRequest("nope", "1000"),
		},
		handled: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, consumer) }()
	<-consumer.handled
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(consumer.replies) != 2 || !consumer.replies[0].OK() || consumer.replies[1].ErrorKind != amqp.ErrorKindNotFound {
		t.Fatalf("unexpected replies: %+v", consumer.replies)
	}
}
