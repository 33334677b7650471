package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tablebooksdk "tablebook/sdk/go"
)

// fakeBackend counts calls and can be scripted to fail per operation.
type fakeBackend struct {
	menus []tablebooksdk.MenuItem

	intentCalls  int
	intentErr    error
	createCalls  int
	createErr    error
	created      []tablebooksdk.ReservationDraft
	listCalls    int
	listResult   []tablebooksdk.Reservation
	listErr      error
	cancelCalls  int
	cancelledIDs []string
}

func (b *fakeBackend) ListMenus(context.Context) ([]tablebooksdk.MenuItem, error) {
	return b.menus, nil
}

func (b *fakeBackend) CreatePaymentIntent(_ context.Context, items []tablebooksdk.LineItem) (tablebooksdk.PaymentIntent, error) {
	b.intentCalls++
	if b.intentErr != nil {
		return tablebooksdk.PaymentIntent{}, b.intentErr
	}
	var amount int64
	for _, it := range items {
		for _, m := range b.menus {
			if m.ID == it.MenuID {
				amount += m.Price * it.Quantity
			}
		}
	}
	return tablebooksdk.PaymentIntent{
		PaymentIntentID: fmt.Sprintf("pi_%d", b.intentCalls),
		ClientSecret:    fmt.Sprintf("pi_%d_secret", b.intentCalls),
		Amount:          amount,
	}, nil
}

func (b *fakeBackend) CreateReservation(_ context.Context, draft tablebooksdk.ReservationDraft) (tablebooksdk.Reservation, error) {
	b.createCalls++
	if b.createErr != nil {
		return tablebooksdk.Reservation{}, b.createErr
	}
	b.created = append(b.created, draft)
	return tablebooksdk.Reservation{ID: fmt.Sprintf("res_%d", b.createCalls), PaymentIntentID: draft.PaymentIntentID}, nil
}

func (b *fakeBackend) ListReservations(context.Context) ([]tablebooksdk.Reservation, error) {
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.listResult, nil
}

func (b *fakeBackend) CancelReservation(_ context.Context, id string) (tablebooksdk.Reservation, error) {
	b.cancelCalls++
	b.cancelledIDs = append(b.cancelledIDs, id)
	return tablebooksdk.Reservation{ID: id, Status: "cancelled"}, nil
}

// scriptedConfirmer returns canned results in order, then repeats the last.
type scriptedConfirmer struct {
	calls   int
	results []ConfirmResult
	errs    []error
}

func (c *scriptedConfirmer) ConfirmPayment(context.Context, tablebooksdk.PaymentIntent, CardDetails) (ConfirmResult, error) {
	i := c.calls
	c.calls++
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return c.results[i], err
}

// recordingUI captures everything the flow rendered.
type recordingUI struct {
	submitStates []bool
	phases       []Phase
	errorsShown  []error
	lists        [][]tablebooksdk.Reservation
	emptyShown   int
}

func (u *recordingUI) SubmitEnabled(enabled bool)  { u.submitStates = append(u.submitStates, enabled) }
func (u *recordingUI) ShowPhase(p Phase)           { u.phases = append(u.phases, p) }
func (u *recordingUI) ShowTotal(int64, []tablebooksdk.LineItem) {}
func (u *recordingUI) ShowError(err error)         { u.errorsShown = append(u.errorsShown, err) }
func (u *recordingUI) ShowReservations(items []tablebooksdk.Reservation) {
	u.lists = append(u.lists, items)
}
func (u *recordingUI) ShowNoReservations() { u.emptyShown++ }

func (u *recordingUI) lastSubmitState(t *testing.T) bool {
	t.Helper()
	if len(u.submitStates) == 0 {
		t.Fatal("submit control never touched")
	}
	return u.submitStates[len(u.submitStates)-1]
}

func testMenus() []tablebooksdk.MenuItem {
	return []tablebooksdk.MenuItem{
		{ID: "ramen", Name: "Ramen", Price: 850, Available: true},
		{ID: "don", Name: "Don", Price: 750, Available: true},
	}
}

func newTestFlow(t *testing.T, confirmer PaymentConfirmer) (*Flow, *fakeBackend, *recordingUI) {
	t.Helper()
	backend := &fakeBackend{menus: testMenus()}
	ui := &recordingUI{}
	flow := NewFlow(backend, confirmer, ui)
	if _, err := flow.LoadMenus(context.Background()); err != nil {
		t.Fatalf("load menus: %v", err)
	}
	return flow, backend, ui
}

func details() ReservationDetails {
	return ReservationDetails{Date: "2026-03-10", Time: "19:00", PartySize: 2}
}

func TestSubmitEmptySelectionRefused(t *testing.T) {
	flow, backend, _ := newTestFlow(t, nil)
	err := flow.Submit(context.Background(), details(), CardDetails{})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if backend.intentCalls != 0 {
		t.Fatal("no intent should be provisioned for an empty selection")
	}
	if flow.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", flow.Phase())
	}
}

func TestSubmitProvisionsThenAwaitsPaymentInput(t *testing.T) {
	flow, backend, _ := newTestFlow(t, nil)
	flow.Add("ramen")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if backend.intentCalls != 1 {
		t.Fatalf("intent calls = %d, want 1", backend.intentCalls)
	}
	if flow.Phase() != PhaseAwaitingPaymentInput {
		t.Fatalf("phase = %s", flow.Phase())
	}
	if backend.createCalls != 0 {
		t.Fatal("no reservation before payment confirmation")
	}
}

func TestResubmitUnchangedSelectionReusesHandle(t *testing.T) {
	flow, backend, _ := newTestFlow(t, &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmSucceeded}}})
	flow.Add("ramen")
	flow.Add("ramen")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	// Second submit with the same selection must not provision again; it
	// proceeds to confirmation with the live handle.
	if err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"}); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if backend.intentCalls != 1 {
		t.Fatalf("intent calls = %d, want 1", backend.intentCalls)
	}
	if backend.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", backend.createCalls)
	}
}

func TestChangedSelectionDiscardsStaleHandle(t *testing.T) {
	flow, backend, _ := newTestFlow(t, nil)
	flow.Add("ramen")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	// The guest edits the order while the payment form is up.
	flow.Add("don")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	if backend.intentCalls != 2 {
		t.Fatalf("intent calls = %d, want 2 (stale handle replaced)", backend.intentCalls)
	}
	if flow.Phase() != PhaseAwaitingPaymentInput {
		t.Fatalf("phase = %s", flow.Phase())
	}
}

func TestDraftNeverBuiltBeforeSuccess(t *testing.T) {
	confirmer := &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmDeclined}, {Status: ConfirmSucceeded}}}
	flow, backend, _ := newTestFlow(t, confirmer)
	flow.Add("ramen")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	// Declined attempt: no draft, handle preserved, back to payment input.
	err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_bad"})
	var ge GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("want GatewayError, got %v", err)
	}
	if backend.createCalls != 0 {
		t.Fatal("reservation drafted despite declined payment")
	}
	if flow.Phase() != PhaseAwaitingPaymentInput {
		t.Fatalf("phase = %s", flow.Phase())
	}
	// Retry with the same handle succeeds and carries the intent id.
	if err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if backend.intentCalls != 1 {
		t.Fatalf("intent calls = %d, want 1", backend.intentCalls)
	}
	if len(backend.created) != 1 || backend.created[0].PaymentIntentID != "pi_1" {
		t.Fatalf("draft = %+v", backend.created)
	}
	if flow.Phase() != PhaseIdle {
		t.Fatalf("phase after success = %s, want idle reset", flow.Phase())
	}
}

func TestSubmitControlAlwaysReenabled(t *testing.T) {
	cases := []struct {
		name      string
		prepare   func(*Flow, *fakeBackend)
		confirmer PaymentConfirmer
	}{
		{name: "empty selection", prepare: func(*Flow, *fakeBackend) {}},
		{name: "provision failure", prepare: func(f *Flow, b *fakeBackend) {
			f.Add("ramen")
			b.intentErr = errors.New("boom")
		}},
		{name: "confirm decline", prepare: func(f *Flow, b *fakeBackend) {
			f.Add("ramen")
			_ = f.Submit(context.Background(), details(), CardDetails{})
		}, confirmer: &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmDeclined}}}},
		{name: "create failure", prepare: func(f *Flow, b *fakeBackend) {
			f.Add("ramen")
			_ = f.Submit(context.Background(), details(), CardDetails{})
			b.createErr = errors.New("boom")
		}, confirmer: &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmSucceeded}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow, backend, ui := newTestFlow(t, tc.confirmer)
			tc.prepare(flow, backend)
			_ = flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"})
			if !ui.lastSubmitState(t) {
				t.Fatal("submit control left disabled")
			}
		})
	}
}

func TestReentrantSubmitRefused(t *testing.T) {
	backend := &fakeBackend{menus: testMenus()}
	ui := &recordingUI{}
	flow := NewFlow(backend, nil, ui)
	flow.mu.Lock()
	flow.submitting = true
	flow.mu.Unlock()
	if err := flow.Submit(context.Background(), details(), CardDetails{}); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("want ErrSubmitInFlight, got %v", err)
	}
}

func TestConsistencyErrorOnCreateFailureAfterPayment(t *testing.T) {
	confirmer := &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmSucceeded}}}
	flow, backend, ui := newTestFlow(t, confirmer)
	flow.Add("ramen")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	backend.createErr = errors.New("db down")
	err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"})
	var ce ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConsistencyError, got %v", err)
	}
	if ce.PaymentIntentID != "pi_1" {
		t.Fatalf("consistency error intent = %s", ce.PaymentIntentID)
	}
	found := false
	for _, shown := range ui.errorsShown {
		var rendered ConsistencyError
		if errors.As(shown, &rendered) {
			found = true
		}
	}
	if !found {
		t.Fatal("consistency error never surfaced to the renderer")
	}

	// Retry: payment is settled, so confirmation is not repeated and the
	// same intent id is resubmitted for the idempotent backend.
	backend.createErr = nil
	if err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if confirmer.calls != 1 {
		t.Fatalf("confirm calls = %d, want 1 (settled payment not re-confirmed)", confirmer.calls)
	}
	if len(backend.created) != 1 || backend.created[0].PaymentIntentID != "pi_1" {
		t.Fatalf("draft = %+v", backend.created)
	}
}

func TestCanceledIntentDiscardsHandle(t *testing.T) {
	confirmer := &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmCanceled}}}
	flow, backend, _ := newTestFlow(t, confirmer)
	flow.Add("ramen")
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"})
	var ge GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("want GatewayError, got %v", err)
	}
	if flow.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle after dead handle", flow.Phase())
	}
	// Next submit provisions a fresh intent.
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	if backend.intentCalls != 2 {
		t.Fatalf("intent calls = %d, want 2", backend.intentCalls)
	}
}

func TestRefreshReplacesCacheAndRendersEmptyState(t *testing.T) {
	flow, backend, ui := newTestFlow(t, nil)
	backend.listResult = []tablebooksdk.Reservation{{ID: "res_1"}, {ID: "res_2"}}
	if err := flow.RefreshReservations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := flow.Reservations(); len(got) != 2 {
		t.Fatalf("cache = %d entries", len(got))
	}

	// The backend list shrinks; the cache is replaced wholesale and the
	// empty state is rendered explicitly.
	backend.listResult = nil
	if err := flow.RefreshReservations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := flow.Reservations(); len(got) != 0 {
		t.Fatalf("cache not replaced: %d entries", len(got))
	}
	if ui.emptyShown != 1 {
		t.Fatalf("empty state rendered %d times, want 1", ui.emptyShown)
	}
}

type scriptedPrompt struct {
	answer bool
	asked  int
}

func (p *scriptedPrompt) ConfirmCancellation(tablebooksdk.Reservation) bool {
	p.asked++
	return p.answer
}

func TestCancelRequiresConfirmation(t *testing.T) {
	flow, backend, _ := newTestFlow(t, nil)
	backend.listResult = []tablebooksdk.Reservation{{ID: "res_1", Date: "2026-03-10"}}
	if err := flow.RefreshReservations(context.Background()); err != nil {
		t.Fatal(err)
	}

	declined := &scriptedPrompt{answer: false}
	if err := flow.Cancel(context.Background(), "res_1", declined); err != nil {
		t.Fatalf("declined cancel should be a no-op: %v", err)
	}
	if declined.asked != 1 || backend.cancelCalls != 0 {
		t.Fatalf("asked=%d cancels=%d", declined.asked, backend.cancelCalls)
	}
	// The cached entry must still be there: no optimistic removal.
	if len(flow.Reservations()) != 1 {
		t.Fatal("cache mutated without backend confirmation")
	}

	accepted := &scriptedPrompt{answer: true}
	backend.listResult = nil
	if err := flow.Cancel(context.Background(), "res_1", accepted); err != nil {
		t.Fatal(err)
	}
	if backend.cancelCalls != 1 || backend.cancelledIDs[0] != "res_1" {
		t.Fatalf("cancel not sent: %v", backend.cancelledIDs)
	}
	if len(flow.Reservations()) != 0 {
		t.Fatal("cache should reflect the refreshed list")
	}
}

func TestFullBookingScenario(t *testing.T) {
	// Scenario: two ramen and one don, pay, reserve, see it listed.
	confirmer := &scriptedConfirmer{results: []ConfirmResult{{Status: ConfirmSucceeded}}}
	flow, backend, _ := newTestFlow(t, confirmer)
	flow.Add("ramen")
	flow.Add("ramen")
	flow.Add("don")
	if got := flow.Total(); got != 2450 {
		t.Fatalf("total = %d, want 2450", got)
	}
	if err := flow.Submit(context.Background(), details(), CardDetails{}); err != nil {
		t.Fatal(err)
	}
	backend.listResult = []tablebooksdk.Reservation{{ID: "res_1", PaymentIntentID: "pi_1"}}
	if err := flow.Submit(context.Background(), details(), CardDetails{PaymentMethod: "pm_card_visa"}); err != nil {
		t.Fatal(err)
	}
	if len(backend.created) != 1 {
		t.Fatalf("created = %d", len(backend.created))
	}
	draft := backend.created[0]
	if draft.PaymentIntentID != "pi_1" || len(draft.Items) != 2 {
		t.Fatalf("draft = %+v", draft)
	}
	if backend.listCalls == 0 {
		t.Fatal("list not refreshed after success")
	}
	if flow.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle for the next order", flow.Phase())
	}
	if flow.Total() != 0 {
		t.Fatal("selection not cleared after success")
	}
}
