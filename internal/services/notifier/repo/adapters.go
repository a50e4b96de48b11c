package repo

import (
	"context"

	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/mailer"
	"github.com/openlistings/alertd/internal/push"
	kafkax "github.com/openlistings/alertd/internal/repository/kafka"
	redisx "github.com/openlistings/alertd/internal/repository/redis"
	notifier "github.com/openlistings/alertd/internal/services/notifier"
)

// Concrete adapters satisfy the orchestrator ports directly; keep the
// wiring honest at compile time.
var (
	_ notifier.Pusher           = (*push.Client)(nil)
	_ notifier.Limiter          = (*redisx.Limiter)(nil)
	_ notifier.EmailSender      = (*mailer.Mailer)(nil)
	_ notifier.OutcomePublisher = (*kafkax.OutcomeEventsKafka)(nil)
)

// Outcomes forwards to the Kafka publisher and swallows nothing: the
// orchestrator decides how loudly a lost outcome is logged.
type Outcomes struct{ P *kafkax.OutcomeEventsKafka }

func (o Outcomes) PublishOutcome(ctx context.Context, ev *delivery.OutcomeEvent) error {
	return o.P.PublishOutcome(ctx, ev)
}
