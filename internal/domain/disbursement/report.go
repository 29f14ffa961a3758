package disbursement

import "github.com/google/uuid"

// Outcome describes what happened to a unit during one Disburse call.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadySent      Outcome = "already_sent"
	OutcomePreviouslyFailed Outcome = "previously_failed"
	OutcomeMissingAsset     Outcome = "missing_asset"
	OutcomeUnavailable      Outcome = "backend_unavailable"
	OutcomeNoDestination    Outcome = "no_destination"
	OutcomeNotReached       Outcome = "not_reached"
)

// UnitOutcome is the per-unit entry of a Report.
type UnitOutcome struct {
	UnitID     uuid.UUID
	LineItemID string
	Outcome    Outcome
	TxID       string
	Error      string
}

// Report summarises a Disburse call. It is informational; the engine never fails its caller.
type Report struct {
	OrderID string
	Mode    Mode
	Aborted bool
	Reason  string
	Units   []UnitOutcome
}

// NewReport creates an empty report for an order.
func NewReport(orderID string) *Report {
	return &Report{OrderID: orderID}
}

// Abort marks the whole invocation as stopped before any unit was processed.
func (r *Report) Abort(reason string) *Report {
	r.Aborted = true
	r.Reason = reason
	return r
}

// Add appends a unit outcome.
func (r *Report) Add(o UnitOutcome) {
	r.Units = append(r.Units, o)
}

// Count returns how many units ended with the given outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, u := range r.Units {
		if u.Outcome == outcome {
			n++
		}
	}
	return n
}
