package domain

// Reservation lifecycle statuses.
const (
	ReservationPending   = "pending"
	ReservationConfirmed = "confirmed"
	ReservationCancelled = "cancelled"
)

// Payment statuses tracked on a reservation.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentRefunded  = "refunded"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email" format:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MenuItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Price is in the currency's minor unit.
	Price     int64  `json:"price"`
	ImageURL  string `json:"image_url,omitempty"`
	Available bool   `json:"available"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LineItem is one menu selection inside a pre-order: a menu id and a
// quantity of at least one.
type LineItem struct {
	MenuID   string `json:"menu_id"`
	Quantity int64  `json:"quantity" minimum:"1"`
}

// PaymentIntentHandle is the client-side reference to a provisioned payment:
// the processor's intent id plus the secret the payment widget needs to
// collect card details against it.
type PaymentIntentHandle struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
}

type ReservationItem struct {
	MenuID   string `json:"menu_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type Reservation struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Date            string            `json:"date" format:"date"`
	Time            string            `json:"time"`
	PartySize       int               `json:"party_size"`
	SpecialRequests string            `json:"special_requests,omitempty"`
	Items           []ReservationItem `json:"items,omitempty"`
	Status          string            `json:"status" enum:"pending,confirmed,cancelled"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	Amount          int64             `json:"amount"`
	PaymentStatus   string            `json:"payment_status" enum:"pending,succeeded,refunded"`
	CreatedAt       string            `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
