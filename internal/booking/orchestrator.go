package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	tablebooksdk "tablebook/sdk/go"
)

// Confirmation outcomes reported by a PaymentConfirmer.
const (
	ConfirmSucceeded = "succeeded"
	ConfirmDeclined  = "requires_payment_method"
	ConfirmCanceled  = "canceled"
)

// ErrSubmitInFlight is returned when Submit is called while a previous
// submission is still running.
var ErrSubmitInFlight = errors.New("a submission is already in progress")

// MenuLister lists the menus offered for pre-order.
type MenuLister interface {
	ListMenus(ctx context.Context) ([]tablebooksdk.MenuItem, error)
}

// IntentCreator provisions a payment for a selection.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, items []tablebooksdk.LineItem) (tablebooksdk.PaymentIntent, error)
}

// ReservationStore persists and lists reservations.
type ReservationStore interface {
	CreateReservation(ctx context.Context, draft tablebooksdk.ReservationDraft) (tablebooksdk.Reservation, error)
	ListReservations(ctx context.Context) ([]tablebooksdk.Reservation, error)
	CancelReservation(ctx context.Context, id string) (tablebooksdk.Reservation, error)
}

// Backend is the full API surface the flow talks to. *tablebooksdk.Client
// satisfies it.
type Backend interface {
	MenuLister
	IntentCreator
	ReservationStore
}

// CardDetails is what the payment widget collected from the guest.
type CardDetails struct {
	PaymentMethod string
}

// ConfirmResult is the widget's report after attempting confirmation.
type ConfirmResult struct {
	Status string
}

// PaymentConfirmer is the payment widget seam: it takes the provisioned
// handle plus card details and drives processor confirmation.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, handle tablebooksdk.PaymentIntent, card CardDetails) (ConfirmResult, error)
}

// Renderer is the presentation seam. The flow computes state; the renderer
// shows it. Implementations must tolerate calls from the refresh goroutine.
type Renderer interface {
	SubmitEnabled(enabled bool)
	ShowPhase(phase Phase)
	ShowTotal(total int64, items []tablebooksdk.LineItem)
	ShowError(err error)
	ShowReservations(items []tablebooksdk.Reservation)
	ShowNoReservations()
}

// ReservationDetails is the non-payment half of the booking form.
type ReservationDetails struct {
	Date            string
	Time            string
	PartySize       int
	SpecialRequests string
}

// Flow owns the pay-then-reserve sequence: selection, payment handle,
// phase, and the cached reservation list.
type Flow struct {
	Backend     Backend
	Confirmer   PaymentConfirmer
	UI          Renderer
	CallTimeout time.Duration

	mu           sync.Mutex
	phase        Phase
	selection    *Selection
	menus        map[string]tablebooksdk.MenuItem
	handle       *tablebooksdk.PaymentIntent
	handlePrint  string
	settled      bool
	reservations []tablebooksdk.Reservation
	submitting   bool
}

func NewFlow(backend Backend, confirmer PaymentConfirmer, ui Renderer) *Flow {
	return &Flow{
		Backend:     backend,
		Confirmer:   confirmer,
		UI:          ui,
		CallTimeout: 15 * time.Second,
		phase:       PhaseIdle,
		selection:   NewSelection(),
		menus:       map[string]tablebooksdk.MenuItem{},
	}
}

func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// transition moves the phase through the guard; a refused move is a
// programming error and panics in development the way a failed invariant
// should, so it is returned instead and surfaced.
func (f *Flow) transition(newPhase Phase) error {
	if err := ensurePhaseTransition(f.phase, newPhase); err != nil {
		return err
	}
	f.phase = newPhase
	f.UI.ShowPhase(newPhase)
	return nil
}

func (f *Flow) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.CallTimeout > 0 {
		return context.WithTimeout(ctx, f.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// LoadMenus fetches the menu directory and caches prices for totals.
func (f *Flow) LoadMenus(ctx context.Context) ([]tablebooksdk.MenuItem, error) {
	cctx, cancel := f.callCtx(ctx)
	defer cancel()
	items, err := f.Backend.ListMenus(cctx)
	if err != nil {
		err = classify(err)
		f.UI.ShowError(err)
		return nil, err
	}
	f.mu.Lock()
	f.menus = make(map[string]tablebooksdk.MenuItem, len(items))
	for _, m := range items {
		f.menus[m.ID] = m
	}
	f.mu.Unlock()
	return items, nil
}

// Add increments a menu line and re-renders the total.
func (f *Flow) Add(menuID string) {
	f.mu.Lock()
	f.selection.Increment(menuID)
	total := f.selection.Total(f.menus)
	items := f.selection.LineItems()
	f.mu.Unlock()
	f.UI.ShowTotal(total, items)
}

// Remove decrements a menu line, dropping it at zero, and re-renders.
func (f *Flow) Remove(menuID string) {
	f.mu.Lock()
	f.selection.Decrement(menuID)
	total := f.selection.Total(f.menus)
	items := f.selection.LineItems()
	f.mu.Unlock()
	f.UI.ShowTotal(total, items)
}

// Total prices the current selection against the cached menus.
func (f *Flow) Total() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selection.Total(f.menus)
}

// Submit is the single entry point bound to the form control. It dispatches
// to the step the flow is in: provisioning the payment first, then
// confirming and reserving. Whatever happens, the control is re-enabled on
// the way out.
func (f *Flow) Submit(ctx context.Context, details ReservationDetails, card CardDetails) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return ErrSubmitInFlight
	}
	f.submitting = true
	f.mu.Unlock()
	f.UI.SubmitEnabled(false)
	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
		f.UI.SubmitEnabled(true)
	}()

	switch f.Phase() {
	case PhaseIdle, PhaseAwaitingIntent:
		return f.provisionPayment(ctx)
	case PhaseAwaitingPaymentInput:
		f.mu.Lock()
		stale := f.handle == nil || f.selection.Fingerprint() != f.handlePrint
		f.mu.Unlock()
		if stale {
			return f.provisionPayment(ctx)
		}
		return f.confirmAndReserve(ctx, details, card)
	case PhaseConfirming:
		return ErrSubmitInFlight
	case PhaseSucceeded:
		err := ValidationError{Msg: "this order is complete; start a new one"}
		f.UI.ShowError(err)
		return err
	}
	return nil
}

// provisionPayment is submit step one: ensure a live payment handle exists
// for the current selection. An unchanged selection reuses the handle it
// already has; a changed one discards the stale handle and provisions anew.
func (f *Flow) provisionPayment(ctx context.Context) error {
	f.mu.Lock()
	if f.selection.Empty() {
		f.mu.Unlock()
		err := ValidationError{Msg: "select at least one menu item before submitting"}
		f.UI.ShowError(err)
		return err
	}
	if f.settled && f.handle != nil {
		// A settled payment is still waiting for its reservation; refuse to
		// provision a second one over it.
		cerr := ConsistencyError{PaymentIntentID: f.handle.PaymentIntentID, Err: errors.New("a paid order has not been saved yet")}
		f.mu.Unlock()
		f.UI.ShowError(cerr)
		return cerr
	}
	print := f.selection.Fingerprint()
	if f.handle != nil && f.handlePrint == print {
		// Live handle for this exact selection; nothing to provision.
		if f.phase != PhaseAwaitingPaymentInput {
			if err := f.transition(PhaseAwaitingPaymentInput); err != nil {
				f.mu.Unlock()
				return err
			}
		}
		f.mu.Unlock()
		return nil
	}
	// Selection changed (or no handle yet): any prior handle no longer
	// matches what the guest would pay for.
	f.handle = nil
	f.handlePrint = ""
	f.settled = false
	items := f.selection.LineItems()
	if err := f.transition(PhaseAwaitingIntent); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	cctx, cancel := f.callCtx(ctx)
	defer cancel()
	intent, err := f.Backend.CreatePaymentIntent(cctx, items)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		err = classify(err)
		f.UI.ShowError(err)
		if terr := f.transition(PhaseIdle); terr != nil {
			return terr
		}
		return err
	}
	f.handle = &intent
	f.handlePrint = print
	return f.transition(PhaseAwaitingPaymentInput)
}

// confirmAndReserve is submit step two: drive processor confirmation with
// the collected card details, and only once the payment settles build and
// persist the reservation draft carrying the intent id.
func (f *Flow) confirmAndReserve(ctx context.Context, details ReservationDetails, card CardDetails) error {
	if err := f.validateDetails(details); err != nil {
		f.UI.ShowError(err)
		return err
	}
	f.mu.Lock()
	handle := *f.handle
	settled := f.settled
	if err := f.transition(PhaseConfirming); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	if !settled {
		cctx, cancel := f.callCtx(ctx)
		result, err := f.Confirmer.ConfirmPayment(cctx, handle, card)
		cancel()
		if err != nil {
			// Confirmation outcome unknown; the handle stays live so the
			// guest can try the same payment again.
			err = classify(err)
			f.UI.ShowError(err)
			f.mu.Lock()
			defer f.mu.Unlock()
			if terr := f.transition(PhaseAwaitingPaymentInput); terr != nil {
				return terr
			}
			return err
		}
		switch result.Status {
		case ConfirmSucceeded:
			f.mu.Lock()
			f.settled = true
			f.mu.Unlock()
		case ConfirmCanceled:
			// The processor killed the intent; the handle is dead.
			f.mu.Lock()
			f.handle = nil
			f.handlePrint = ""
			err := f.transition(PhaseIdle)
			f.mu.Unlock()
			if err != nil {
				return err
			}
			gerr := GatewayError{Reason: "the payment was canceled; start over"}
			f.UI.ShowError(gerr)
			return gerr
		default:
			f.mu.Lock()
			err := f.transition(PhaseAwaitingPaymentInput)
			f.mu.Unlock()
			if err != nil {
				return err
			}
			gerr := GatewayError{Reason: "the card was declined; check the details and try again"}
			f.UI.ShowError(gerr)
			return gerr
		}
	}

	// Payment settled. The reservation draft exists only from here on.
	f.mu.Lock()
	draft := tablebooksdk.ReservationDraft{
		Date:            details.Date,
		Time:            details.Time,
		PartySize:       details.PartySize,
		SpecialRequests: details.SpecialRequests,
		Items:           f.selection.LineItems(),
		PaymentIntentID: handle.PaymentIntentID,
	}
	f.mu.Unlock()

	cctx, cancel := f.callCtx(ctx)
	_, err := f.Backend.CreateReservation(cctx, draft)
	cancel()
	if err != nil {
		// Money moved but no reservation landed. Keep the settled handle so
		// a retry resubmits the same intent id; creation is idempotent on it.
		cerr := ConsistencyError{PaymentIntentID: handle.PaymentIntentID, Err: classify(err)}
		f.UI.ShowError(cerr)
		f.mu.Lock()
		defer f.mu.Unlock()
		if terr := f.transition(PhaseAwaitingPaymentInput); terr != nil {
			return terr
		}
		return cerr
	}

	f.mu.Lock()
	if err := f.transition(PhaseSucceeded); err != nil {
		f.mu.Unlock()
		return err
	}
	f.selection.Clear()
	f.handle = nil
	f.handlePrint = ""
	f.settled = false
	f.mu.Unlock()

	// Show the stored truth rather than patching the cache locally.
	f.RefreshReservations(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transition(PhaseIdle)
}

func (f *Flow) validateDetails(details ReservationDetails) error {
	if details.Date == "" || details.Time == "" {
		return ValidationError{Msg: "date and time are required"}
	}
	if details.PartySize < 1 {
		return ValidationError{Msg: "party size must be at least 1"}
	}
	return nil
}

// RefreshReservations replaces the cached list wholesale with whatever the
// backend returns, and renders the empty state explicitly when there is
// nothing to show.
func (f *Flow) RefreshReservations(ctx context.Context) error {
	cctx, cancel := f.callCtx(ctx)
	defer cancel()
	items, err := f.Backend.ListReservations(cctx)
	if err != nil {
		err = classify(err)
		f.UI.ShowError(err)
		return err
	}
	f.mu.Lock()
	f.reservations = items
	f.mu.Unlock()
	if len(items) == 0 {
		f.UI.ShowNoReservations()
		return nil
	}
	f.UI.ShowReservations(items)
	return nil
}

// Reservations returns the cached list from the last refresh.
func (f *Flow) Reservations() []tablebooksdk.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tablebooksdk.Reservation, len(f.reservations))
	copy(out, f.reservations)
	return out
}

// CancelPrompt asks the guest to confirm before anything is sent. The call
// blocks until a decision is made.
type CancelPrompt interface {
	ConfirmCancellation(res tablebooksdk.Reservation) bool
}

// Cancel cancels a reservation after an explicit confirmation. The cached
// list is never patched optimistically; the refresh after the call shows
// the stored outcome.
func (f *Flow) Cancel(ctx context.Context, id string, prompt CancelPrompt) error {
	f.mu.Lock()
	var target *tablebooksdk.Reservation
	for i := range f.reservations {
		if f.reservations[i].ID == id {
			target = &f.reservations[i]
			break
		}
	}
	f.mu.Unlock()
	if target == nil {
		err := ValidationError{Msg: "no such reservation in the current list"}
		f.UI.ShowError(err)
		return err
	}
	if !prompt.ConfirmCancellation(*target) {
		return nil
	}
	cctx, cancel := f.callCtx(ctx)
	_, err := f.Backend.CancelReservation(cctx, id)
	cancel()
	if err != nil {
		err = classify(err)
		f.UI.ShowError(err)
		return err
	}
	return f.RefreshReservations(ctx)
}
