package domain

import (
	"encoding/json"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusProcessing BookingStatus = "processing"
	BookingStatusBooked     BookingStatus = "booked"
	BookingStatusTicketed   BookingStatus = "ticketed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusProcessing,
		BookingStatusBooked, BookingStatusTicketed, BookingStatusCancelled:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

// allowedTransitions is the full transition table. ticketed and cancelled
// are terminal; cancellation of a ticketed booking goes through a refund
// workflow, never through this table.
var allowedTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed:  {BookingStatusProcessing, BookingStatusCancelled},
	BookingStatusProcessing: {BookingStatusBooked, BookingStatusCancelled},
	BookingStatusBooked:     {BookingStatusTicketed, BookingStatusCancelled},
	BookingStatusTicketed:   {},
	BookingStatusCancelled:  {},
}

// CanTransitionTo reports whether next is reachable from s through the
// transition table. Provider callbacks can arrive having skipped intermediate
// notifications, so a forward jump along the table's edges is legal; moving
// backwards or out of a terminal status is not.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s == next {
		return false
	}
	seen := map[BookingStatus]bool{s: true}
	frontier := []BookingStatus{s}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, succ := range allowedTransitions[current] {
			if succ == next {
				return true
			}
			if !seen[succ] {
				seen[succ] = true
				frontier = append(frontier, succ)
			}
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPartial   PaymentStatus = "partial"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PaymentKind string

const (
	PaymentKindPayment PaymentKind = "payment"
	PaymentKindRefund  PaymentKind = "refund"
)

type PaymentTransaction struct {
	At          time.Time   `json:"at"`
	AmountCents int64       `json:"amount_cents"`
	Kind        PaymentKind `json:"kind"`
	Reference   string      `json:"reference"`
}

// DerivePaymentStatus recomputes the payment status from the append-only
// transaction log. refunded is reached only when a refund transaction drops
// the net paid below the total after the booking was fully paid.
func DerivePaymentStatus(txns []PaymentTransaction, totalCents int64) PaymentStatus {
	var net int64
	completedSeen := false
	refunded := false

	for _, t := range txns {
		if t.Kind == PaymentKindRefund {
			net -= t.AmountCents
			if completedSeen && net < totalCents {
				refunded = true
			}
		} else {
			net += t.AmountCents
		}
		if totalCents > 0 && net >= totalCents {
			completedSeen = true
			refunded = false
		}
	}

	switch {
	case refunded:
		return PaymentStatusRefunded
	case net <= 0:
		return PaymentStatusPending
	case net >= totalCents:
		return PaymentStatusCompleted
	default:
		return PaymentStatusPartial
	}
}

type PassengerType string

const (
	PassengerAdult  PassengerType = "adult"
	PassengerChild  PassengerType = "child"
	PassengerInfant PassengerType = "infant"
)

type Passenger struct {
	FirstName      string        `json:"first_name"`
	LastName       string        `json:"last_name"`
	Type           PassengerType `json:"type"`
	PassportNumber string        `json:"passport_number,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// TimelineEntry records one accepted status mutation. The timeline is
// append-only; replaying it in order reconstructs the transition history.
type TimelineEntry struct {
	Status BookingStatus `json:"status"`
	At     time.Time     `json:"at"`
	Note   string        `json:"note"`
	Actor  string        `json:"actor"`
}

// AdminData is operator-only bookkeeping. It must never be serialized into
// owner-facing responses.
type AdminData struct {
	AssignedTo  string `json:"assigned_to,omitempty"`
	CostCents   int64  `json:"cost_cents,omitempty"`
	ProfitCents int64  `json:"profit_cents,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// TicketDetails is populated once the provider confirms issuance.
type TicketDetails struct {
	PNR           string   `json:"pnr,omitempty"`
	TicketNumbers []string `json:"ticket_numbers,omitempty"`
	Documents     []string `json:"documents,omitempty"`
}

type Booking struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	SearchID string `json:"search_id"`
	OfferID  string `json:"offer_id"`
	// Offer is the frozen copy captured at booking time. It stays immutable
	// even after the originating SearchRecord expires.
	Offer Offer `json:"offer"`

	Contact    Contact     `json:"contact"`
	Passengers []Passenger `json:"passengers"`

	Status        BookingStatus        `json:"status"`
	PaymentStatus PaymentStatus        `json:"payment_status"`
	Payments      []PaymentTransaction `json:"payments"`
	Timeline      []TimelineEntry      `json:"timeline"`

	AdminData     AdminData     `json:"-"`
	TicketDetails TicketDetails `json:"ticket_details"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawOffer returns the frozen offer payload for persistence.
func (b *Booking) RawOffer() json.RawMessage {
	if len(b.Offer.Raw) > 0 {
		return b.Offer.Raw
	}
	raw, _ := json.Marshal(b.Offer)
	return raw
}
