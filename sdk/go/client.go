package tablebooksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tablebook HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// AuthResult is what register/login return.
type AuthResult struct {
	User        User   `json:"user"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// MenuItem is one orderable menu entry. Price is in the currency's minor unit.
type MenuItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"image_url"`
	Available   bool   `json:"available"`
}

// LineItem pairs a menu id with a quantity.
type LineItem struct {
	MenuID   string `json:"menu_id"`
	Quantity int64  `json:"quantity"`
}

// PaymentIntent is the handle returned by intent provisioning.
type PaymentIntent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
}

// ReservationItem is a priced pre-order line on a stored reservation.
type ReservationItem struct {
	MenuID   string `json:"menu_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// Reservation represents the API reservation model.
type Reservation struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	PartySize       int               `json:"party_size"`
	SpecialRequests string            `json:"special_requests"`
	Items           []ReservationItem `json:"items"`
	Status          string            `json:"status"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Amount          int64             `json:"amount"`
	PaymentStatus   string            `json:"payment_status"`
	CreatedAt       string            `json:"created_at"`
}

// ReservationDraft is the create-reservation request body.
type ReservationDraft struct {
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	PartySize       int        `json:"party_size"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	Items           []LineItem `json:"items,omitempty"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account and returns a bearer token.
func (c *Client) Register(ctx context.Context, email, name, password string) (AuthResult, error) {
	body := map[string]any{"email": email, "name": name, "password": password}
	var resp AuthResult
	err := c.do(ctx, http.MethodPost, "v1/auth/register", body, &resp)
	return resp, err
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	body := map[string]any{"email": email, "password": password}
	var resp AuthResult
	err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp)
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/auth/me", nil, &resp)
	return resp, err
}

// ListMenus returns the menus currently offered for pre-order.
func (c *Client) ListMenus(ctx context.Context) ([]MenuItem, error) {
	var resp struct {
		Items []MenuItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/menus", nil, &resp)
	return resp.Items, err
}

// PublishableKey returns the processor key the payment widget needs.
func (c *Client) PublishableKey(ctx context.Context) (string, error) {
	var resp struct {
		PublishableKey string `json:"publishable_key"`
	}
	err := c.do(ctx, http.MethodGet, "v1/payments/publishable-key", nil, &resp)
	return resp.PublishableKey, err
}

// CreatePaymentIntent provisions a payment for the given selection.
func (c *Client) CreatePaymentIntent(ctx context.Context, items []LineItem) (PaymentIntent, error) {
	body := map[string]any{"items": items}
	var resp PaymentIntent
	err := c.do(ctx, http.MethodPost, "v1/payments/intent", body, &resp)
	return resp, err
}

// RefundPayment refunds a confirmed intent.
func (c *Client) RefundPayment(ctx context.Context, intentID string) error {
	endpoint := fmt.Sprintf("v1/payments/%s/refund", url.PathEscape(intentID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// CreateReservation persists a reservation draft.
func (c *Client) CreateReservation(ctx context.Context, draft ReservationDraft) (Reservation, error) {
	var resp Reservation
	err := c.do(ctx, http.MethodPost, "v1/reservations", draft, &resp)
	return resp, err
}

// ListReservations returns the caller's reservations, newest first.
func (c *Client) ListReservations(ctx context.Context) ([]Reservation, error) {
	var resp struct {
		Items []Reservation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/reservations", nil, &resp)
	return resp.Items, err
}

// CancelReservation cancels by id; the backend refunds paid reservations.
func (c *Client) CancelReservation(ctx context.Context, id string) (Reservation, error) {
	var resp Reservation
	endpoint := fmt.Sprintf("v1/reservations/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
