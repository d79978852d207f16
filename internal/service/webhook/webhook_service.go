package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/internal/repository"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

// Callback is a provider status notification. EventID is optional; providers
// that omit it are deduped on the (reference, status) pair instead.
type Callback struct {
	ProviderReference string      `json:"providerReference"`
	Status            string      `json:"status"`
	EventID           string      `json:"eventId,omitempty"`
	Ticket            *TicketData `json:"ticketData,omitempty"`
}

type TicketData struct {
	PNR           string   `json:"pnr"`
	TicketNumbers []string `json:"ticketNumbers,omitempty"`
	Documents     []string `json:"documents,omitempty"`
}

// providerStatusMap translates the provider's status vocabulary. Tokens not in
// this map are acknowledged and logged so the provider does not retry forever.
var providerStatusMap = map[string]domain.BookingStatus{
	"CONFIRMED":   domain.BookingStatusConfirmed,
	"PROCESSING":  domain.BookingStatusProcessing,
	"IN_PROGRESS": domain.BookingStatusProcessing,
	"BOOKED":      domain.BookingStatusBooked,
	"TICKETED":    domain.BookingStatusTicketed,
	"ISSUED":      domain.BookingStatusTicketed,
	"CANCELLED":   domain.BookingStatusCancelled,
	"VOID":        domain.BookingStatusCancelled,
}

type WebhookUseCase interface {
	Process(ctx context.Context, cb Callback) error
}

// Bookings is the slice of the state machine the ingest path drives.
type Bookings interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	Transition(ctx context.Context, id string, newStatus domain.BookingStatus, actor, note string) (*domain.Booking, error)
	AttachTicket(ctx context.Context, id string, details domain.TicketDetails) error
}

// Locker serializes callback processing per booking across instances.
type Locker interface {
	AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	ReleaseBookingLock(ctx context.Context, bookingID string) error
}

type WebhookService struct {
	bookings Bookings
	repo     repository.BookingRepository
	events   repository.WebhookEventRepository
	locks    Locker
	lockTTL  time.Duration
}

func NewWebhookService(bookings Bookings, repo repository.BookingRepository, events repository.WebhookEventRepository, locks Locker, lockTTL time.Duration) *WebhookService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &WebhookService{
		bookings: bookings,
		repo:     repo,
		events:   events,
		locks:    locks,
		lockTTL:  lockTTL,
	}
}

// Process ingests one provider callback. Replays of an already-processed event
// and callbacks for unknown bookings or unknown status tokens are acknowledged
// without touching the timeline; only malformed payloads and internal failures
// surface as errors so the provider retries them.
func (s *WebhookService) Process(ctx context.Context, cb Callback) error {
	if cb.ProviderReference == "" {
		return fmt.Errorf("%w: providerReference is required", domain.ErrValidation)
	}
	if cb.Status == "" {
		return fmt.Errorf("%w: status is required", domain.ErrValidation)
	}

	mapped, known := providerStatusMap[strings.ToUpper(cb.Status)]
	if !known {
		logger.Warn("ignoring callback with unknown status",
			"provider_reference", cb.ProviderReference, "status", cb.Status)
		return nil
	}

	b, err := s.resolveBooking(ctx, cb.ProviderReference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("ignoring callback for unknown booking",
				"provider_reference", cb.ProviderReference, "status", cb.Status)
			return nil
		}
		return err
	}

	if err := s.acquireLock(ctx, b.ID); err != nil {
		return err
	}
	defer func() {
		if err := s.locks.ReleaseBookingLock(context.WithoutCancel(ctx), b.ID); err != nil {
			logger.Warn("failed to release booking lock", "booking_id", b.ID, "error", err)
		}
	}()

	// Same-key duplicates for one booking all funnel through this lock, so a
	// plain check here cannot race with itself.
	key := idempotencyKey(cb)
	seen, err := s.events.Seen(ctx, key)
	if err != nil {
		return err
	}
	if seen {
		logger.Info("ignoring replayed callback",
			"booking_id", b.ID, "status", cb.Status, "event_id", cb.EventID)
		return nil
	}

	note := "provider callback " + strings.ToUpper(cb.Status)
	if cb.EventID != "" {
		note += " (event " + cb.EventID + ")"
	}
	if _, err := s.bookings.Transition(ctx, b.ID, mapped, "webhook:provider", note); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Stale or out-of-order delivery relative to the booking's current
			// status. Acknowledge so the provider stops resending it, but keep
			// any ticket data: a replay of an issuance callback whose first
			// delivery only half-landed still has to persist the PNR.
			logger.Warn("ignoring out-of-order callback",
				"booking_id", b.ID, "current_status", b.Status, "status", cb.Status)
			if err := s.attachTicket(ctx, b.ID, cb.Ticket); err != nil {
				return err
			}
			if _, err := s.events.MarkProcessed(ctx, key); err != nil {
				logger.Warn("failed to record callback idempotency key", "booking_id", b.ID, "error", err)
			}
			return nil
		}
		return err
	}

	if err := s.attachTicket(ctx, b.ID, cb.Ticket); err != nil {
		return err
	}

	if _, err := s.events.MarkProcessed(ctx, key); err != nil {
		// The transition already landed; a retry of this event will now fail
		// the table check and be acknowledged above.
		logger.Warn("failed to record callback idempotency key", "booking_id", b.ID, "error", err)
	}
	return nil
}

func (s *WebhookService) attachTicket(ctx context.Context, bookingID string, ticket *TicketData) error {
	if ticket == nil {
		return nil
	}
	return s.bookings.AttachTicket(ctx, bookingID, domain.TicketDetails{
		PNR:           ticket.PNR,
		TicketNumbers: ticket.TicketNumbers,
		Documents:     ticket.Documents,
	})
}

// resolveBooking accepts either our own booking id or the reference the
// provider was handed at issuance time.
func (s *WebhookService) resolveBooking(ctx context.Context, ref string) (*domain.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, ref)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.repo.GetByProviderRef(ctx, ref)
}

func (s *WebhookService) acquireLock(ctx context.Context, bookingID string) error {
	deadline := time.Now().Add(s.lockTTL)
	for {
		ok, err := s.locks.AcquireBookingLock(ctx, bookingID, s.lockTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("booking %s is locked by another callback: %w", bookingID, domain.ErrConflict)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func idempotencyKey(cb Callback) string {
	return cb.ProviderReference + "|" + strings.ToUpper(cb.Status) + "|" + cb.EventID
}

var _ WebhookUseCase = (*WebhookService)(nil)
