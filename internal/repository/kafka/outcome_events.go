package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/obs/retry"
)

// OutcomeEventsKafka feeds the analytics topic with per-user delivery
// outcomes. Publishing is best-effort with a short in-process retry; a lost
// outcome event never blocks or fails a send.
type OutcomeEventsKafka struct {
	p   *Producer
	log *zap.Logger
}

func NewOutcomeEventsKafka(p *Producer, log *zap.Logger) *OutcomeEventsKafka {
	if log == nil {
		log = zap.L()
	}
	return &OutcomeEventsKafka{p: p, log: log}
}

func (e *OutcomeEventsKafka) PublishOutcome(ctx context.Context, ev *delivery.OutcomeEvent) error {
	return retry.Do(ctx, func() error {
		return e.p.PublishJSON(ctx, KeyFromInt64(ev.UserID), ev)
	}, retry.DefaultPublishPolicy(e.log))
}
