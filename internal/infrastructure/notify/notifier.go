package notify

import (
	"context"
	"fmt"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/outbox"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// AdminSubject is the subject line of every admin alert.
const AdminSubject = "Liquid asset disbursements"

// OutboxWriter is the subset of the outbox repository the notifier needs.
type OutboxWriter interface {
	Insert(ctx context.Context, entry *outbox.Entry) error
}

// Notifier writes order notes to the audit trail and queues admin alerts in
// the outbox. The outbox publisher moves alerts to the notification stream.
type Notifier struct {
	notes   disbursement.NoteRepository
	outbox  OutboxWriter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewNotifier(notes disbursement.NoteRepository, outbox OutboxWriter, metrics *observability.Metrics, logger zerolog.Logger) *Notifier {
	return &Notifier{
		notes:   notes,
		outbox:  outbox,
		metrics: metrics,
		logger:  logger.With().Str("component", "notifier").Logger(),
	}
}

// Annotate appends a note to the order audit trail.
func (n *Notifier) Annotate(ctx context.Context, orderID, message string) error {
	if err := n.notes.AddNote(ctx, disbursement.NewOrderNote(orderID, message)); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}
	return nil
}

// NotifyAdmin queues an alert for the given recipients. With no recipients
// configured the alert is dropped, matching a shop with no admin mail set.
func (n *Notifier) NotifyAdmin(ctx context.Context, orderID string, recipients []string, message string) error {
	if len(recipients) == 0 {
		n.logger.Debug().Str("order_id", orderID).Msg("no admin recipients configured, alert dropped")
		n.record("skipped")
		return nil
	}

	entry := outbox.NewAdminNotification(orderID, recipients, AdminSubject, message)
	if err := n.outbox.Insert(ctx, entry); err != nil {
		n.record("failed")
		return fmt.Errorf("queue admin notification: %w", err)
	}

	n.record("queued")
	return nil
}

func (n *Notifier) record(status string) {
	n.metrics.RecordNotification(status)
}
