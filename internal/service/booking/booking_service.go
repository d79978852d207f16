package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/internal/kafka"
	"github.com/tourtastic/tourtastic/internal/repository"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	GetBookingForUser(ctx context.Context, id, userID string) (*domain.Booking, error)
	ListBookingsForUser(ctx context.Context, userID string) ([]domain.Booking, error)
	Transition(ctx context.Context, id string, newStatus domain.BookingStatus, actor, note string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, actor string) (*domain.Booking, error)
	RecordPayment(ctx context.Context, id string, txn domain.PaymentTransaction) (*domain.Booking, error)
	AttachTicket(ctx context.Context, id string, details domain.TicketDetails) error
	UpdateAdminData(ctx context.Context, id string, admin domain.AdminData) error
}

// SearchReader is the one slice of the search cache the state machine needs:
// resolving the selected offer at creation time.
type SearchReader interface {
	GetSearch(ctx context.Context, searchID string) (*domain.SearchRecord, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings           repository.BookingRepository
	searches           SearchReader
	producer           Producer
	notificationsTopic string
}

type CreateBookingInput struct {
	UserID     string
	SearchID   string
	OfferID    string
	Contact    domain.Contact
	Passengers []domain.Passenger
}

func NewBookingService(bookings repository.BookingRepository, searches SearchReader, producer Producer, notificationsTopic string) *BookingService {
	return &BookingService{
		bookings:           bookings,
		searches:           searches,
		producer:           producer,
		notificationsTopic: notificationsTopic,
	}
}

// CreateBooking freezes the selected offer into a new pending booking. The
// copy is taken verbatim, so the booking survives the search record's expiry
// and any later provider-side revision of the offer.
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if input.Contact.Email == "" {
		return nil, fmt.Errorf("%w: contact email is required", domain.ErrValidation)
	}
	if len(input.Passengers) == 0 {
		return nil, fmt.Errorf("%w: at least one passenger is required", domain.ErrValidation)
	}

	rec, err := s.searches.GetSearch(ctx, input.SearchID)
	if err != nil {
		return nil, err
	}
	offer, ok := rec.FindOffer(input.OfferID)
	if !ok {
		return nil, fmt.Errorf("offer %s in search %s: %w", input.OfferID, input.SearchID, domain.ErrNotFound)
	}
	if err := validatePassengers(input.Passengers, rec.Criteria); err != nil {
		return nil, err
	}

	now := time.Now()
	actor := "user:" + input.UserID
	b := &domain.Booking{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		SearchID:      input.SearchID,
		OfferID:       input.OfferID,
		Offer:         *offer,
		Contact:       input.Contact,
		Passengers:    input.Passengers,
		Status:        domain.BookingStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Timeline: []domain.TimelineEntry{{
			Status: domain.BookingStatusPending,
			At:     now,
			Note:   "booking created",
			Actor:  actor,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}

	s.notify(ctx, b, "booking_created")
	return b, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// GetBookingForUser scopes the read to the owner. A booking owned by someone
// else reads as not found rather than forbidden, so ids stay unguessable.
func (s *BookingService) GetBookingForUser(ctx context.Context, id, userID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *BookingService) ListBookingsForUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

// Transition applies one state machine step. The table check happens before
// any write, and the repository applies the step as a compare-and-swap on the
// status observed here, so two writers racing from the same stale status
// cannot both win.
func (s *BookingService) Transition(ctx context.Context, id string, newStatus domain.BookingStatus, actor, note string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transitionFrom(ctx, b, newStatus, actor, note)
}

func (s *BookingService) transitionFrom(ctx context.Context, b *domain.Booking, newStatus domain.BookingStatus, actor, note string) (*domain.Booking, error) {
	if !b.Status.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%s -> %s: %w", b.Status, newStatus, domain.ErrInvalidTransition)
	}

	entry := domain.TimelineEntry{
		Status: newStatus,
		At:     time.Now(),
		Note:   note,
		Actor:  actor,
	}
	applied, err := s.bookings.TransitionStatus(ctx, b.ID, b.Status, newStatus, entry)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("booking %s changed concurrently: %w", b.ID, domain.ErrConflict)
	}

	b.Status = newStatus
	b.Timeline = append(b.Timeline, entry)
	b.UpdatedAt = entry.At

	s.notify(ctx, b, "booking_status_changed")
	return b, nil
}

// CancelBooking is idempotent: cancelling a cancelled booking is a no-op with
// no new timeline entry. A ticketed booking cannot be cancelled here; issued
// tickets go through the refund workflow instead.
func (s *BookingService) CancelBooking(ctx context.Context, id, actor string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookingStatusCancelled {
		return b, nil
	}
	if b.Status == domain.BookingStatusTicketed {
		return nil, fmt.Errorf("booking %s is ticketed: %w", id, domain.ErrConflict)
	}
	return s.transitionFrom(ctx, b, domain.BookingStatusCancelled, actor, "booking cancelled")
}

// RecordPayment appends to the transaction log and recomputes the derived
// payment status against the frozen offer price.
func (s *BookingService) RecordPayment(ctx context.Context, id string, txn domain.PaymentTransaction) (*domain.Booking, error) {
	if txn.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", domain.ErrValidation)
	}
	if txn.Kind != domain.PaymentKindPayment && txn.Kind != domain.PaymentKindRefund {
		return nil, fmt.Errorf("%w: unknown payment kind %q", domain.ErrValidation, txn.Kind)
	}
	if txn.At.IsZero() {
		txn.At = time.Now()
	}

	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	txns := append(append([]domain.PaymentTransaction{}, b.Payments...), txn)
	status := domain.DerivePaymentStatus(txns, b.Offer.PriceCents)

	if err := s.bookings.AddPayment(ctx, id, txn, status); err != nil {
		return nil, err
	}

	b.Payments = txns
	b.PaymentStatus = status
	b.UpdatedAt = txn.At
	return b, nil
}

func (s *BookingService) AttachTicket(ctx context.Context, id string, details domain.TicketDetails) error {
	return s.bookings.SetTicketDetails(ctx, id, details)
}

func (s *BookingService) UpdateAdminData(ctx context.Context, id string, admin domain.AdminData) error {
	return s.bookings.UpdateAdminData(ctx, id, admin)
}

func (s *BookingService) notify(ctx context.Context, b *domain.Booking, event string) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	notification := kafka.BookingNotification{
		Event:     event,
		BookingID: b.ID,
		UserID:    b.UserID,
		Email:     b.Contact.Email,
		Status:    b.Status,
		At:        b.UpdatedAt,
	}
	if err := s.producer.Publish(ctx, s.notificationsTopic, b.ID, notification); err != nil {
		logger.Warn("failed to publish booking notification", "booking_id", b.ID, "event", event, "error", err)
	}
}

func validatePassengers(passengers []domain.Passenger, criteria domain.SearchCriteria) error {
	var adults, children, infants int
	for _, p := range passengers {
		switch p.Type {
		case domain.PassengerAdult:
			adults++
		case domain.PassengerChild:
			children++
		case domain.PassengerInfant:
			infants++
		default:
			return fmt.Errorf("%w: unknown passenger type %q", domain.ErrValidation, p.Type)
		}
	}
	if adults != criteria.Adults || children != criteria.Children || infants != criteria.Infants {
		return fmt.Errorf("%w: passenger counts must match the search (%d adults, %d children, %d infants)",
			domain.ErrValidation, criteria.Adults, criteria.Children, criteria.Infants)
	}
	return nil
}

var _ BookingUseCase = (*BookingService)(nil)
