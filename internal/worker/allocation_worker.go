package worker

import (
	"context"
	"errors"
	"time"

	"allocator/internal/amqp"
	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/metrics"
	"allocator/internal/plans"
	"allocator/internal/report"
	"allocator/internal/services"
)

// Consumer is the part of the AMQP client the worker drives.
type Consumer interface {
	ConsumeAllocationRequests(ctx context.Context, handler amqp.RequestHandler) error
}

// AllocationWorker answers allocation requests arriving over AMQP.
type AllocationWorker struct {
	svc     *services.AllocationService
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewAllocationWorker(svc *services.AllocationService, logger *log.Logger, m *metrics.Metrics) *AllocationWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &AllocationWorker{
		svc:     svc,
		logger:  logger.WithComponent(log.ComponentWorker),
		metrics: m,
	}
}

// Run consumes requests until ctx is cancelled.
func (w *AllocationWorker) Run(ctx context.Context, consumer Consumer) error {
	w.logger.InfoContext(ctx, "Allocation worker started", log.FieldPlan, w.svc.DefaultPlan())
	err := consumer.ConsumeAllocationRequests(ctx, w.HandleRequest)
	if errors.Is(err, context.Canceled) {
		w.logger.InfoContext(ctx, "Allocation worker stopped")
		return nil
	}
	return err
}

// HandleRequest computes one allocation. Bad input, unknown plans and empty
// plans are answered with an error reply; only failures of the plan source
// itself are returned as errors so the message can be retried.
func (w *AllocationWorker) HandleRequest(ctx context.Context, msg *amqp.AllocationRequestMessage) (*amqp.AllocationReplyMessage, error) {
	logger := w.logger.With(log.FieldRequestID, msg.RequestID)

	res, err := w.svc.Calculate(ctx, msg.Plan, msg.Amount)
	if err != nil {
		kind := errorKind(err)
		if kind == amqp.ErrorKindInternal {
			w.metrics.ObserveAMQPMessage(metrics.OutcomeError)
			return nil, err
		}
		w.metrics.ObserveAMQPMessage(kind)
		logger.WarnContext(ctx, "Allocation request refused", log.FieldError, err.Error(), "kind", kind)
		return &amqp.AllocationReplyMessage{
			RequestID: msg.RequestID,
			Plan:      msg.Plan,
			Error:     err.Error(),
			ErrorKind: kind,
			Timestamp: time.Now(),
		}, nil
	}

	doc := report.NewDocument(res.Allocation, res.SumCheck)
	w.metrics.ObserveAMQPMessage(metrics.OutcomeOK)
	logger.InfoContext(ctx, "Allocation request answered",
		log.FieldPlan, res.Plan,
		log.FieldTotalAmount, doc.TotalAmount)

	return &amqp.AllocationReplyMessage{
		RequestID: msg.RequestID,
		Plan:      res.Plan,
		Result:    &doc,
		Warning:   res.Warning(),
		Timestamp: time.Now(),
	}, nil
}

// errorKind classifies a service error. The kinds double as metric outcomes.
func errorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrNonPositive), errors.Is(err, core.ErrNotANumber):
		return amqp.ErrorKindInvalidAmount
	case errors.Is(err, plans.ErrPlanNotFound):
		return amqp.ErrorKindNotFound
	case errors.Is(err, core.ErrEmptyPlan):
		return amqp.ErrorKindEmptyPlan
	default:
		return amqp.ErrorKindInternal
	}
}
