package disbursement

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/cassiomorais/disbursements/internal/infrastructure/backends"
	"github.com/cassiomorais/disbursements/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// settleTimeout bounds the writes that record the outcome of a send. They run
// detached from the run context: once a backend call returned, its result is
// persisted even if the run was cancelled or lost its lock meanwhile.
const settleTimeout = 10 * time.Second

// EngineConfig tunes the unit policy of the engine.
type EngineConfig struct {
	// StopOnHandledUnit stops the run at the first unit that was already attempted,
	// leaving later units of the order untouched.
	StopOnHandledUnit bool

	// FallbackAdminEmails receive alerts when the stored settings cannot be read
	// or carry no admin recipients.
	FallbackAdminEmails []string
}

// Engine disburses the payable units of an order after its payment completed.
// Callers must not run two Disburse calls for the same order concurrently.
type Engine struct {
	settings SettingsLoader
	units    disbursement.UnitRepository
	notifier Notifier
	backends BackendFactory
	metrics  *observability.Metrics
	logger   zerolog.Logger
	tracer   trace.Tracer
	cfg      EngineConfig
}

// NewEngine creates a new Engine.
func NewEngine(
	settings SettingsLoader,
	units disbursement.UnitRepository,
	notifier Notifier,
	backendFactory BackendFactory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg EngineConfig,
) *Engine {
	return &Engine{
		settings: settings,
		units:    units,
		notifier: notifier,
		backends: backendFactory,
		metrics:  metrics,
		logger:   logger,
		tracer:   observability.Tracer(),
		cfg:      cfg,
	}
}

// Disburse sends every unattempted unit of the order. It never fails its caller:
// problems are logged, written to the order notes and reported to the admins.
func (e *Engine) Disburse(ctx context.Context, orderID string) *disbursement.Report {
	ctx, span := e.tracer.Start(ctx, "disbursement.Disburse",
		trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	start := time.Now()
	report := disbursement.NewReport(orderID)
	log := e.logger.With().Str("order_id", orderID).Logger()
	log.Info().Msg("payment completed, disbursing order")

	cfg, err := e.settings.Load(ctx)
	if err != nil {
		msg := msgSettingsUnavailable(err)
		log.Error().Err(err).Msg("load disbursement settings")
		e.annotate(ctx, log, orderID, msg)
		e.notifyAdmin(ctx, log, orderID, nil, withOrderID(msg, orderID))
		return e.finish(span, report.Abort(msg), start)
	}
	report.Mode = cfg.Mode
	span.SetAttributes(attribute.String("mode", string(cfg.Mode)))

	if !cfg.Enabled() {
		log.Info().Msg("no disbursement mode set, aborting")
		return e.finish(span, report.Abort("no disbursement mode set"), start)
	}

	if err := cfg.Validate(); err != nil {
		return e.abortMisconfigured(ctx, log, span, report, cfg, err, start)
	}

	backend, err := e.backends.Build(cfg)
	if err != nil {
		return e.abortMisconfigured(ctx, log, span, report, cfg, err, start)
	}
	log = log.With().Str("backend", backend.Name()).Logger()

	units, err := e.units.ListByOrder(ctx, orderID)
	if err != nil {
		msg := msgUnitsUnavailable(err)
		log.Error().Err(err).Msg("list payable units")
		e.notifyAdmin(ctx, log, orderID, cfg.AdminEmails, withOrderID(msg, orderID))
		return e.finish(span, report.Abort(msg), start)
	}

	for i, u := range units {
		if !u.HasDestination() {
			continue
		}
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("run cancelled, remaining units left for the next trigger")
			e.markNotReached(report, units[i:])
			break
		}

		outcome, stop := e.processUnit(ctx, log, backend, cfg, u)
		report.Add(outcome)
		e.metrics.RecordUnit(backend.Name(), string(outcome.Outcome))

		if stop {
			log.Info().Str("unit_id", u.ID.String()).Msg("unit already handled, skipping the rest of the order")
			e.markNotReached(report, units[i+1:])
			break
		}
	}

	return e.finish(span, report, start)
}

func (e *Engine) processUnit(
	ctx context.Context,
	log zerolog.Logger,
	backend backends.Backend,
	cfg disbursement.BackendConfig,
	u *disbursement.PayableUnit,
) (disbursement.UnitOutcome, bool) {
	ctx, span := e.tracer.Start(ctx, "disbursement.unit", trace.WithAttributes(
		attribute.String("unit_id", u.ID.String()),
		attribute.String("line_item_id", u.LineItemID),
	))
	defer span.End()

	log = log.With().Str("unit_id", u.ID.String()).Logger()
	out := disbursement.UnitOutcome{UnitID: u.ID, LineItemID: u.LineItemID}

	switch u.SendStatus {
	case disbursement.StatusSuccess:
		log.Info().Msg("asset already sent, not sending again")
		e.annotate(ctx, log, u.OrderID, MsgAlreadySent)
		out.Outcome = disbursement.OutcomeAlreadySent
		if u.TxID != nil {
			out.TxID = *u.TxID
		}
		return out, e.cfg.StopOnHandledUnit
	case disbursement.StatusError:
		log.Warn().Msg("asset sending failed before, not trying again")
		e.annotate(ctx, log, u.OrderID, MsgPreviouslyFailed)
		e.notifyAdmin(ctx, log, u.OrderID, cfg.AdminEmails, withOrderID(MsgPreviouslyFailed, u.OrderID))
		out.Outcome = disbursement.OutcomePreviouslyFailed
		if u.LastError != nil {
			out.Error = *u.LastError
		}
		return out, e.cfg.StopOnHandledUnit
	}

	if u.AssetID == "" {
		msg := msgMissingAssetID(u.SKU)
		log.Error().Str("sku", u.SKU).Msg("asset ID not configured on product")
		e.annotate(ctx, log, u.OrderID, msg)
		e.notifyAdmin(ctx, log, u.OrderID, cfg.AdminEmails, withOrderID(msg, u.OrderID))
		out.Outcome = disbursement.OutcomeMissingAsset
		out.Error = domainErrors.ErrMissingAssetID.Error()
		return out, false
	}

	e.annotate(ctx, log, u.OrderID, MsgTrying)

	sendStart := time.Now()
	receipt, err := backend.Send(ctx, u.TransferRequest())

	ctx, cancel := settleContext(ctx)
	defer cancel()

	if errors.Is(err, domainErrors.ErrBackendUnavailable) {
		msg := msgBackendUnavailable(backend.Name())
		log.Warn().Err(err).Msg("backend rejected by circuit breaker, unit left unattempted")
		e.annotate(ctx, log, u.OrderID, msg)
		e.notifyAdmin(ctx, log, u.OrderID, cfg.AdminEmails, withOrderID(msg, u.OrderID))
		out.Outcome = disbursement.OutcomeUnavailable
		out.Error = err.Error()
		return out, false
	}

	if err == nil && receipt.Confirmed() {
		e.metrics.ObserveBackend(backend.Name(), "success", time.Since(sendStart))
		return e.recordSent(ctx, log, cfg, u, backend.Name(), receipt.TxID, out), false
	}

	detail := failureDetail(err)
	e.metrics.ObserveBackend(backend.Name(), "error", time.Since(sendStart))
	span.SetStatus(codes.Error, detail)
	if err != nil {
		span.RecordError(err)
	}
	log.Error().Err(err).Str("detail", detail).Msg("sending asset failed")

	if serr := e.units.SetStatus(ctx, u.ID, disbursement.StatusError, detail); serr != nil {
		if errors.Is(serr, domainErrors.ErrAlreadyTerminal) {
			log.Warn().Msg("unit reached a terminal state concurrently")
		} else {
			log.Error().Err(serr).Msg("record failed send")
		}
	}

	msg := msgSendFailed(backend.Name(), detail)
	e.annotate(ctx, log, u.OrderID, msg)
	e.notifyAdmin(ctx, log, u.OrderID, cfg.AdminEmails, withOrderID(msg, u.OrderID))

	out.Outcome = disbursement.OutcomeFailed
	out.Error = detail
	return out, false
}

func (e *Engine) recordSent(
	ctx context.Context,
	log zerolog.Logger,
	cfg disbursement.BackendConfig,
	u *disbursement.PayableUnit,
	backendName, txID string,
	out disbursement.UnitOutcome,
) disbursement.UnitOutcome {
	log = log.With().Str("txid", txID).Logger()
	out.Outcome = disbursement.OutcomeSent
	out.TxID = txID

	if err := e.units.SetStatus(ctx, u.ID, disbursement.StatusSuccess, txID); err != nil {
		if errors.Is(err, domainErrors.ErrAlreadyTerminal) {
			log.Warn().Msg("unit reached a terminal state concurrently")
		} else {
			log.Error().Err(err).Msg("asset sent but status not recorded")
			e.notifyAdmin(ctx, log, u.OrderID, cfg.AdminEmails, withOrderID(msgReconciliation(u, txID, err), u.OrderID))
		}
	}

	log.Info().Msg("asset sent")
	e.annotate(ctx, log, u.OrderID, msgSent(backendName, txID))
	return out
}

func (e *Engine) abortMisconfigured(
	ctx context.Context,
	log zerolog.Logger,
	span trace.Span,
	report *disbursement.Report,
	cfg disbursement.BackendConfig,
	err error,
	start time.Time,
) *disbursement.Report {
	msg := msgConfiguration(err)
	log.Error().Err(err).Msg("disbursement backend not configured, aborting")
	e.annotate(ctx, log, report.OrderID, msg)
	e.notifyAdmin(ctx, log, report.OrderID, cfg.AdminEmails, msg)
	return e.finish(span, report.Abort(msg), start)
}

func (e *Engine) markNotReached(report *disbursement.Report, units []*disbursement.PayableUnit) {
	for _, u := range units {
		if !u.HasDestination() {
			continue
		}
		report.Add(disbursement.UnitOutcome{
			UnitID:     u.ID,
			LineItemID: u.LineItemID,
			Outcome:    disbursement.OutcomeNotReached,
		})
	}
}

func (e *Engine) finish(span trace.Span, report *disbursement.Report, start time.Time) *disbursement.Report {
	result := "completed"
	if report.Aborted {
		result = "aborted"
		span.SetStatus(codes.Error, report.Reason)
	}
	e.metrics.RecordRun(string(report.Mode), result, time.Since(start))
	return report
}

func (e *Engine) annotate(ctx context.Context, log zerolog.Logger, orderID, msg string) {
	if err := e.notifier.Annotate(ctx, orderID, msg); err != nil {
		log.Error().Err(err).Str("note", msg).Msg("write order note")
	}
}

func (e *Engine) notifyAdmin(ctx context.Context, log zerolog.Logger, orderID string, recipients []string, msg string) {
	if len(recipients) == 0 {
		recipients = e.cfg.FallbackAdminEmails
	}
	if err := e.notifier.NotifyAdmin(ctx, orderID, recipients, msg); err != nil {
		log.Error().Err(err).Str("notification", msg).Msg("queue admin notification")
	}
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func failureDetail(err error) string {
	if err != nil {
		return err.Error()
	}
	return domainErrors.ErrEmptyReceipt.Error()
}
