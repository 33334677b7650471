package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tablebook/internal/config"
	"tablebook/internal/domain"
	"tablebook/internal/engine/auth"
	"tablebook/internal/events"
	"tablebook/internal/notify"
	"tablebook/internal/payment"
	"tablebook/internal/repo"
)

// ValidationError reports a request the engine refuses on business grounds.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Auth     auth.Service
	Payments payment.Provider
	Notify   notify.Notifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, provider payment.Provider, notifier notify.Notifier) Engine {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Auth: auth.Service{
			JWTSecret: cfg.Auth.JWTSecret,
			TokenTTL:  cfg.TokenTTL(),
		},
		Payments: provider,
		Notify:   notifier,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RegisterOptions are parameters for creating an account.
type RegisterOptions struct {
	Email    string
	Name     string
	Password string
}

func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, invalidf("a valid email is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.User{}, invalidf("name is required")
	}
	if len(opts.Password) < 8 {
		return domain.User{}, invalidf("password must be at least 8 characters")
	}
	if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, auth.EmailTakenError{Email: email}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := e.Auth.HashPassword(opts.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := repo.UserRecord{
		User: domain.User{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      strings.TrimSpace(opts.Name),
			CreatedAt: e.now().UTC().Format(time.RFC3339),
		},
		PasswordHash: hash,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeUserRegistered, u.ID, "user", u.ID, events.EventPayload{"email": u.Email}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u.User, nil
}

// Authenticate checks credentials and returns the user on success.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	rec, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, auth.InvalidCredentialsError{}
		}
		return domain.User{}, err
	}
	if err := e.Auth.CheckPassword(rec.PasswordHash, password); err != nil {
		return domain.User{}, err
	}
	return rec.User, nil
}

func (e Engine) ListMenus(ctx context.Context) ([]domain.MenuItem, error) {
	return e.Repo.ListAvailableMenus(ctx)
}

// priceSelection resolves line items against the menu table and returns the
// total in the currency's minor unit.
func (e Engine) priceSelection(ctx context.Context, items []domain.LineItem) (int64, error) {
	if len(items) == 0 {
		return 0, invalidf("at least one menu item is required")
	}
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return 0, invalidf("menu %s has quantity %d; must be at least 1", item.MenuID, item.Quantity)
		}
		if seen[item.MenuID] {
			return 0, invalidf("menu %s appears more than once", item.MenuID)
		}
		seen[item.MenuID] = true
		ids = append(ids, item.MenuID)
	}
	menus, err := e.Repo.GetMenus(ctx, ids)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, item := range items {
		m, ok := menus[item.MenuID]
		if !ok {
			return 0, invalidf("menu %s does not exist", item.MenuID)
		}
		if !m.Available {
			return 0, invalidf("menu %s is not available", m.Name)
		}
		total += m.Price * item.Quantity
	}
	return total, nil
}

// CreatePaymentIntent provisions a processor intent for the priced selection.
func (e Engine) CreatePaymentIntent(ctx context.Context, userID string, items []domain.LineItem) (domain.PaymentIntentHandle, error) {
	total, err := e.priceSelection(ctx, items)
	if err != nil {
		return domain.PaymentIntentHandle{}, err
	}
	intent, err := e.Payments.CreateIntent(ctx, total, e.Config.Payments.Currency)
	if err != nil {
		return domain.PaymentIntentHandle{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaymentIntentHandle{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.TypeIntentCreated, userID, "payment_intent", intent.ID, events.EventPayload{"amount": total}); err != nil {
		return domain.PaymentIntentHandle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentIntentHandle{}, err
	}
	return domain.PaymentIntentHandle{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          total,
	}, nil
}

// ReservationCreateOptions are parameters for creating a reservation.
type ReservationCreateOptions struct {
	UserID          string
	Date            string
	Time            string
	PartySize       int
	SpecialRequests string
	Items           []domain.LineItem
	PaymentIntentID string
}

func (e Engine) CreateReservation(ctx context.Context, opts ReservationCreateOptions) (domain.Reservation, error) {
	if _, err := time.Parse("2006-01-02", opts.Date); err != nil {
		return domain.Reservation{}, invalidf("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", opts.Time); err != nil {
		return domain.Reservation{}, invalidf("time must be HH:MM")
	}
	if opts.PartySize < 1 || opts.PartySize > 20 {
		return domain.Reservation{}, invalidf("party size must be between 1 and 20")
	}

	var amount int64
	paymentStatus := domain.PaymentPending
	if len(opts.Items) > 0 {
		// Pre-orders are paid up front; the reservation only lands once the
		// processor reports the intent settled.
		if opts.PaymentIntentID == "" {
			return domain.Reservation{}, invalidf("payment_intent_id is required when pre-ordering")
		}
		if existing, err := e.Repo.FindReservationByIntent(ctx, opts.PaymentIntentID); err == nil {
			if existing.UserID != opts.UserID {
				return domain.Reservation{}, repo.ErrNotFound
			}
			return existing, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Reservation{}, err
		}
		intent, err := e.Payments.GetIntent(ctx, opts.PaymentIntentID)
		if err != nil {
			if errors.Is(err, payment.ErrIntentNotFound) {
				return domain.Reservation{}, invalidf("payment intent %s is unknown", opts.PaymentIntentID)
			}
			return domain.Reservation{}, err
		}
		if intent.Status != payment.StatusSucceeded {
			return domain.Reservation{}, invalidf("payment has not completed (status %s)", intent.Status)
		}
		priced, err := e.priceSelection(ctx, opts.Items)
		if err != nil {
			return domain.Reservation{}, err
		}
		if priced != intent.Amount {
			return domain.Reservation{}, invalidf("paid amount %d does not match order total %d", intent.Amount, priced)
		}
		amount = priced
		paymentStatus = domain.PaymentSucceeded
	}

	res := domain.Reservation{
		ID:              uuid.NewString(),
		UserID:          opts.UserID,
		Date:            opts.Date,
		Time:            opts.Time,
		PartySize:       opts.PartySize,
		SpecialRequests: opts.SpecialRequests,
		Status:          domain.ReservationConfirmed,
		PaymentIntentID: opts.PaymentIntentID,
		Amount:          amount,
		PaymentStatus:   paymentStatus,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	for _, item := range opts.Items {
		res.Items = append(res.Items, domain.ReservationItem{MenuID: item.MenuID, Quantity: item.Quantity})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReservationTx(ctx, tx, res); err != nil {
		return domain.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeReservationCreated, opts.UserID, "reservation", res.ID, events.EventPayload{
		"date": res.Date, "time": res.Time, "party_size": res.PartySize, "amount": res.Amount,
	}); err != nil {
		return domain.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, err
	}

	// Reload so item lines carry menu names and prices.
	created, err := e.Repo.GetReservation(ctx, res.ID)
	if err != nil {
		return res, nil
	}
	e.announce(ctx, created, notify.Notifier.ReservationConfirmed)
	return created, nil
}

func (e Engine) ListReservations(ctx context.Context, userID string) ([]domain.Reservation, error) {
	return e.Repo.ListReservations(ctx, userID)
}

func ensureReservationTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.ReservationPending:
		if newStatus == domain.ReservationConfirmed || newStatus == domain.ReservationCancelled {
			return nil
		}
	case domain.ReservationConfirmed:
		if newStatus == domain.ReservationCancelled {
			return nil
		}
	}
	return invalidf("invalid reservation status transition %s -> %s", oldStatus, newStatus)
}

// CancelReservation cancels an owned reservation and refunds any settled
// pre-order payment.
func (e Engine) CancelReservation(ctx context.Context, userID, id string) (domain.Reservation, error) {
	res, err := e.Repo.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.UserID != userID {
		return domain.Reservation{}, repo.ErrNotFound
	}
	if err := ensureReservationTransition(res.Status, domain.ReservationCancelled); err != nil {
		return domain.Reservation{}, err
	}

	paymentStatus := res.PaymentStatus
	if res.PaymentStatus == domain.PaymentSucceeded && res.PaymentIntentID != "" {
		if _, err := e.Payments.Refund(ctx, res.PaymentIntentID); err != nil && !errors.Is(err, payment.ErrAlreadyRefunded) {
			return domain.Reservation{}, err
		}
		paymentStatus = domain.PaymentRefunded
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReservationStatusTx(ctx, tx, id, domain.ReservationCancelled, paymentStatus); err != nil {
		return domain.Reservation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeReservationCanceled, userID, "reservation", id, events.EventPayload{
		"refunded": paymentStatus == domain.PaymentRefunded,
	}); err != nil {
		return domain.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, err
	}

	res.Status = domain.ReservationCancelled
	res.PaymentStatus = paymentStatus
	e.announce(ctx, res, notify.Notifier.ReservationCancelled)
	return res, nil
}

// RefundPayment refunds an intent the user paid, independent of reservation
// cancellation.
func (e Engine) RefundPayment(ctx context.Context, userID, intentID string) (payment.Refund, error) {
	res, err := e.Repo.FindReservationByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return payment.Refund{}, payment.ErrIntentNotFound
		}
		return payment.Refund{}, err
	}
	if res.UserID != userID {
		return payment.Refund{}, payment.ErrIntentNotFound
	}
	if res.PaymentStatus == domain.PaymentRefunded {
		return payment.Refund{}, payment.ErrAlreadyRefunded
	}
	ref, err := e.Payments.Refund(ctx, intentID)
	if err != nil {
		return payment.Refund{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return payment.Refund{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePaymentStatusByIntentTx(ctx, tx, intentID, domain.PaymentRefunded); err != nil {
		return payment.Refund{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePaymentRefunded, userID, "payment_intent", intentID, events.EventPayload{
		"refund_id": ref.ID, "amount": ref.Amount,
	}); err != nil {
		return payment.Refund{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Refund{}, err
	}
	return ref, nil
}

// announce posts an operator notification. Notification failure never fails
// the operation that triggered it.
func (e Engine) announce(ctx context.Context, res domain.Reservation, send func(notify.Notifier, context.Context, domain.Reservation, domain.User) error) {
	user, err := e.Repo.GetUser(ctx, res.UserID)
	if err != nil {
		log.Printf("notify: load user %s: %v", res.UserID, err)
		return
	}
	if err := send(e.Notify, ctx, res, user.User); err != nil {
		log.Printf("notify: reservation %s: %v", res.ID, err)
	}
}
