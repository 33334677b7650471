package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tablebook/internal/config"
	"tablebook/internal/db"
	"tablebook/internal/domain"
	"tablebook/internal/engine"
	"tablebook/internal/migrate"
	"tablebook/internal/payment"
	"tablebook/internal/repo"
)

// fakeProvider is an in-memory payment processor.
type fakeProvider struct {
	intents map[string]*payment.Intent
	seq     int
	refunds int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]*payment.Intent{}}
}

func (f *fakeProvider) CreateIntent(_ context.Context, amount int64, currency string) (payment.Intent, error) {
	f.seq++
	in := &payment.Intent{
		ID:           fmt.Sprintf("pi_test_%d", f.seq),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", f.seq),
		Amount:       amount,
		Currency:     currency,
		Status:       payment.StatusRequiresPaymentMethod,
	}
	f.intents[in.ID] = in
	return *in, nil
}

func (f *fakeProvider) GetIntent(_ context.Context, id string) (payment.Intent, error) {
	in, ok := f.intents[id]
	if !ok {
		return payment.Intent{}, payment.ErrIntentNotFound
	}
	return *in, nil
}

func (f *fakeProvider) Confirm(_ context.Context, id, _ string) (payment.Intent, error) {
	in, ok := f.intents[id]
	if !ok {
		return payment.Intent{}, payment.ErrIntentNotFound
	}
	in.Status = payment.StatusSucceeded
	return *in, nil
}

func (f *fakeProvider) Refund(_ context.Context, id string) (payment.Refund, error) {
	in, ok := f.intents[id]
	if !ok {
		return payment.Refund{}, payment.ErrIntentNotFound
	}
	f.refunds++
	return payment.Refund{ID: fmt.Sprintf("re_test_%d", f.refunds), IntentID: id, Amount: in.Amount, Status: "succeeded"}, nil
}

type testEnv struct {
	Engine   engine.Engine
	Provider *fakeProvider
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-secret")
	provider := newFakeProvider()
	eng := engine.New(conn, cfg, provider, nil)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Provider: provider, Ctx: context.Background()}
}

func registerGuest(t *testing.T, env testEnv) domain.User {
	t.Helper()
	u, err := env.Engine.Register(env.Ctx, engine.RegisterOptions{
		Email:    "guest@example.com",
		Name:     "Guest",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func seededMenus(t *testing.T, env testEnv) []domain.MenuItem {
	t.Helper()
	menus, err := env.Engine.ListMenus(env.Ctx)
	if err != nil {
		t.Fatalf("list menus: %v", err)
	}
	if len(menus) == 0 {
		t.Fatal("expected seeded menus")
	}
	return menus
}

func TestRegisterAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	if u.Email != "guest@example.com" {
		t.Fatalf("email = %q", u.Email)
	}

	if _, err := env.Engine.Register(env.Ctx, engine.RegisterOptions{
		Email: "guest@example.com", Name: "Other", Password: "password123",
	}); err == nil {
		t.Fatal("expected conflict on duplicate email")
	}

	got, err := env.Engine.Authenticate(env.Ctx, "GUEST@example.com", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("authenticated wrong user")
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "guest@example.com", "wrong"); err == nil {
		t.Fatal("expected credential failure")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.Engine.Auth.MintToken("guest@example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	email, err := env.Engine.Auth.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if email != "guest@example.com" {
		t.Fatalf("subject = %q", email)
	}
	if _, err := env.Engine.Auth.VerifyToken(token + "x"); err == nil {
		t.Fatal("expected tampered token to fail")
	}
}

func TestCreatePaymentIntentPricesSelection(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	menus := seededMenus(t, env)

	items := []domain.LineItem{
		{MenuID: menus[0].ID, Quantity: 2},
		{MenuID: menus[1].ID, Quantity: 1},
	}
	handle, err := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, items)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	want := menus[0].Price*2 + menus[1].Price
	if handle.Amount != want {
		t.Fatalf("amount = %d, want %d", handle.Amount, want)
	}
	if handle.PaymentIntentID == "" || handle.ClientSecret == "" {
		t.Fatal("handle missing processor fields")
	}

	if _, err := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, nil); err == nil {
		t.Fatal("expected empty selection to fail")
	}
	if _, err := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, []domain.LineItem{{MenuID: "nope", Quantity: 1}}); err == nil {
		t.Fatal("expected unknown menu to fail")
	}
}

func TestCreateReservationRequiresSettledPayment(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	menus := seededMenus(t, env)
	items := []domain.LineItem{{MenuID: menus[0].ID, Quantity: 1}}
	handle, err := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, items)
	if err != nil {
		t.Fatal(err)
	}

	opts := engine.ReservationCreateOptions{
		UserID: u.ID, Date: "2026-03-10", Time: "19:00", PartySize: 2,
		Items: items, PaymentIntentID: handle.PaymentIntentID,
	}
	if _, err := env.Engine.CreateReservation(env.Ctx, opts); err == nil {
		t.Fatal("expected unsettled payment to be rejected")
	}

	if _, err := env.Provider.Confirm(env.Ctx, handle.PaymentIntentID, "pm_card_visa"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateReservation(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	if res.Status != domain.ReservationConfirmed || res.PaymentStatus != domain.PaymentSucceeded {
		t.Fatalf("status = %s/%s", res.Status, res.PaymentStatus)
	}
	if len(res.Items) != 1 || res.Items[0].Name != menus[0].Name {
		t.Fatalf("items not hydrated: %+v", res.Items)
	}
}

func TestCreateReservationIdempotentOnIntent(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	menus := seededMenus(t, env)
	items := []domain.LineItem{{MenuID: menus[0].ID, Quantity: 1}}
	handle, _ := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, items)
	env.Provider.Confirm(env.Ctx, handle.PaymentIntentID, "pm_card_visa")

	opts := engine.ReservationCreateOptions{
		UserID: u.ID, Date: "2026-03-10", Time: "19:00", PartySize: 2,
		Items: items, PaymentIntentID: handle.PaymentIntentID,
	}
	first, err := env.Engine.CreateReservation(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.CreateReservation(env.Ctx, opts)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("retry created a second reservation: %s vs %s", second.ID, first.ID)
	}
	list, err := env.Engine.ListReservations(env.Ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("reservations = %d, want 1", len(list))
	}
}

func TestCreateReservationWithoutPreOrder(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	res, err := env.Engine.CreateReservation(env.Ctx, engine.ReservationCreateOptions{
		UserID: u.ID, Date: "2026-04-01", Time: "18:30", PartySize: 4,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Amount != 0 || res.PaymentStatus != domain.PaymentPending {
		t.Fatalf("unexpected payment state: %d %s", res.Amount, res.PaymentStatus)
	}
}

func TestCancelReservationRefunds(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	menus := seededMenus(t, env)
	items := []domain.LineItem{{MenuID: menus[0].ID, Quantity: 2}}
	handle, _ := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, items)
	env.Provider.Confirm(env.Ctx, handle.PaymentIntentID, "pm_card_visa")
	res, err := env.Engine.CreateReservation(env.Ctx, engine.ReservationCreateOptions{
		UserID: u.ID, Date: "2026-03-10", Time: "19:00", PartySize: 2,
		Items: items, PaymentIntentID: handle.PaymentIntentID,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := env.Engine.CancelReservation(env.Ctx, u.ID, res.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.ReservationCancelled || cancelled.PaymentStatus != domain.PaymentRefunded {
		t.Fatalf("status = %s/%s", cancelled.Status, cancelled.PaymentStatus)
	}
	if env.Provider.refunds != 1 {
		t.Fatalf("refunds = %d, want 1", env.Provider.refunds)
	}

	// Cancelling again is an invalid transition.
	if _, err := env.Engine.CancelReservation(env.Ctx, u.ID, res.ID); err == nil {
		t.Fatal("expected double cancel to fail")
	}
}

func TestCancelReservationOwnership(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	other, err := env.Engine.Register(env.Ctx, engine.RegisterOptions{
		Email: "other@example.com", Name: "Other", Password: "password123",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateReservation(env.Ctx, engine.ReservationCreateOptions{
		UserID: u.ID, Date: "2026-04-01", Time: "18:30", PartySize: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelReservation(env.Ctx, other.ID, res.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want not found for foreign reservation, got %v", err)
	}
}

func TestRefundPayment(t *testing.T) {
	env := newTestEnv(t)
	u := registerGuest(t, env)
	menus := seededMenus(t, env)
	items := []domain.LineItem{{MenuID: menus[0].ID, Quantity: 1}}
	handle, _ := env.Engine.CreatePaymentIntent(env.Ctx, u.ID, items)
	env.Provider.Confirm(env.Ctx, handle.PaymentIntentID, "pm_card_visa")
	if _, err := env.Engine.CreateReservation(env.Ctx, engine.ReservationCreateOptions{
		UserID: u.ID, Date: "2026-03-10", Time: "19:00", PartySize: 2,
		Items: items, PaymentIntentID: handle.PaymentIntentID,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.RefundPayment(env.Ctx, u.ID, "pi_unknown"); !errors.Is(err, payment.ErrIntentNotFound) {
		t.Fatalf("want intent not found, got %v", err)
	}
	if _, err := env.Engine.RefundPayment(env.Ctx, u.ID, handle.PaymentIntentID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := env.Engine.RefundPayment(env.Ctx, u.ID, handle.PaymentIntentID); !errors.Is(err, payment.ErrAlreadyRefunded) {
		t.Fatalf("want already refunded, got %v", err)
	}
}
