package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	appDisbursement "github.com/cassiomorais/disbursements/internal/application/disbursement"
	"github.com/cassiomorais/disbursements/internal/domain/disbursement"
	domainErrors "github.com/cassiomorais/disbursements/internal/domain/errors"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	defaultEventSource = "api"
	defaultSyncTimeout = 90 * time.Second
)

// OrderLocker serialises disbursement runs of one order across processes.
type OrderLocker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderLocks returns the lock guarding orderID.
type OrderLocks func(orderID string) OrderLocker

type (
	eventPublisher interface {
		PublishPaymentCompleted(ctx context.Context, orderID, source string) (string, error)
	}
	disburser interface {
		Disburse(ctx context.Context, orderID string) *disbursement.Report
	}
	unitRegistrar interface {
		Execute(ctx context.Context, orderID string, inputs []appDisbursement.UnitInput) ([]*disbursement.PayableUnit, error)
	}
	unitLister interface {
		Execute(ctx context.Context, orderID string) ([]*disbursement.PayableUnit, error)
	}
	noteLister interface {
		Execute(ctx context.Context, orderID string) ([]*disbursement.OrderNote, error)
	}
)

// DisbursementController handles the order-scoped disbursement endpoints.
type DisbursementController struct {
	publisher eventPublisher
	engine    disburser
	register  unitRegistrar
	units     unitLister
	notes     noteLister

	locks       OrderLocks
	syncTimeout time.Duration
}

// NewDisbursementController creates a new DisbursementController.
func NewDisbursementController(
	publisher eventPublisher,
	engine disburser,
	register unitRegistrar,
	units unitLister,
	notes noteLister,
) *DisbursementController {
	return &DisbursementController{
		publisher: publisher,
		engine:    engine,
		register:  register,
		units:     units,
		notes:     notes,
	}
}

// WithSyncRuns enables ?sync=true. Inline runs take the same per-order lock as
// the worker and are bounded by timeout.
func (h *DisbursementController) WithSyncRuns(locks OrderLocks, timeout time.Duration) *DisbursementController {
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	h.locks = locks
	h.syncTimeout = timeout
	return h
}

// PaymentCompleted handles POST /api/v1/orders/{orderID}/payment-completed.
// The run is queued for the worker unless ?sync=true asks for it inline.
func (h *DisbursementController) PaymentCompleted(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req PaymentCompletedRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}
	source := req.Source
	if source == "" {
		source = defaultEventSource
	}

	sync := false
	if raw := r.URL.Query().Get("sync"); raw != "" {
		sync, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, domainErrors.NewValidationError("sync", "must be a boolean"))
			return
		}
	}

	if sync {
		h.disburseNow(w, r, orderID)
		return
	}

	messageID, err := h.publisher.PublishPaymentCompleted(r.Context(), orderID, source)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to queue disbursement")
		writeError(w, domainErrors.ErrBackendUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, PaymentCompletedResponse{
		OrderID:   orderID,
		MessageID: messageID,
		Status:    "queued",
	})
}

func (h *DisbursementController) disburseNow(w http.ResponseWriter, r *http.Request, orderID string) {
	if h.locks == nil {
		writeError(w, domainErrors.ErrNotSupported)
		return
	}

	// A client hanging up must not cut a run short between send and persist.
	ctx := context.WithoutCancel(r.Context())
	var report *disbursement.Report
	err := h.locks(orderID).WithLock(ctx, func(lockCtx context.Context) error {
		runCtx, cancel := context.WithTimeout(lockCtx, h.syncTimeout)
		defer cancel()
		report = h.engine.Disburse(runCtx, orderID)
		return nil
	})
	if report == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("release order lock after inline run")
	}
	writeJSON(w, http.StatusOK, FromReport(report))
}

// RegisterUnits handles POST /api/v1/orders/{orderID}/units
func (h *DisbursementController) RegisterUnits(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req RegisterUnitsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	units, err := h.register.Execute(r.Context(), orderID, req.ToUnitInputs())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromUnits(units))
}

// ListUnits handles GET /api/v1/orders/{orderID}/units
func (h *DisbursementController) ListUnits(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	units, err := h.units.Execute(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromUnits(units))
}

// ListNotes handles GET /api/v1/orders/{orderID}/notes
func (h *DisbursementController) ListNotes(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	notes, err := h.notes.Execute(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromNotes(notes))
}

func orderIDParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if id == "" || len(id) > 64 {
		return "", domainErrors.NewValidationError("order_id", "must be 1-64 characters")
	}
	return id, nil
}
