package server

import (
	"tablebook/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Name     string `json:"name" minLength:"1"`
	Password string `json:"password" minLength:"8"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateIntentRequest struct {
	Items []domain.LineItem `json:"items" minItems:"1"`
}

type CreateReservationRequest struct {
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	PartySize       int               `json:"party_size" minimum:"1"`
	SpecialRequests string            `json:"special_requests,omitempty"`
	Items           []domain.LineItem `json:"items,omitempty"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
}

// Response payloads

type AuthResponse struct {
	User        domain.User `json:"user"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
}

type MenuListResponse struct {
	Items []domain.MenuItem `json:"items"`
}

type PublishableKeyResponse struct {
	PublishableKey string `json:"publishable_key"`
}

type RefundResponse struct {
	RefundID        string `json:"refund_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Status          string `json:"status"`
}

type ReservationListResponse struct {
	Items []domain.Reservation `json:"items"`
}

type ChatSessionResponse struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}
