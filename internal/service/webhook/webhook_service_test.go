package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tourtastic/tourtastic/internal/domain"
)

type MockBookings struct {
	mock.Mock
}

func (m *MockBookings) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookings) Transition(ctx context.Context, id string, newStatus domain.BookingStatus, actor, note string) (*domain.Booking, error) {
	args := m.Called(ctx, id, newStatus, actor, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookings) AttachTicket(ctx context.Context, id string, details domain.TicketDetails) error {
	args := m.Called(ctx, id, details)
	return args.Error(0)
}

type MockBookingRepo struct {
	mock.Mock
}

func (m *MockBookingRepo) Create(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *MockBookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepo) GetByProviderRef(ctx context.Context, ref string) (*domain.Booking, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepo) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepo) TransitionStatus(ctx context.Context, id string, from, to domain.BookingStatus, entry domain.TimelineEntry) (bool, error) {
	args := m.Called(ctx, id, from, to, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookingRepo) AddPayment(ctx context.Context, id string, txn domain.PaymentTransaction, status domain.PaymentStatus) error {
	args := m.Called(ctx, id, txn, status)
	return args.Error(0)
}

func (m *MockBookingRepo) SetTicketDetails(ctx context.Context, id string, details domain.TicketDetails) error {
	args := m.Called(ctx, id, details)
	return args.Error(0)
}

func (m *MockBookingRepo) UpdateAdminData(ctx context.Context, id string, admin domain.AdminData) error {
	args := m.Called(ctx, id, admin)
	return args.Error(0)
}

type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) Seen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvents) MarkProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvents) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, bookingID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) ReleaseBookingLock(ctx context.Context, bookingID string) error {
	args := m.Called(ctx, bookingID)
	return args.Error(0)
}

func newTestService(bookings *MockBookings, repo *MockBookingRepo, events *MockEvents, locks *MockLocker) *WebhookService {
	return &WebhookService{
		bookings: bookings,
		repo:     repo,
		events:   events,
		locks:    locks,
		lockTTL:  time.Second,
	}
}

func expectLock(locks *MockLocker, bookingID string) {
	locks.On("AcquireBookingLock", mock.Anything, bookingID, time.Second).Return(true, nil).Once()
	locks.On("ReleaseBookingLock", mock.Anything, bookingID).Return(nil).Once()
}

func TestWebhookService_Process_TicketedWithDetails(t *testing.T) {
	mockBookings := &MockBookings{}
	mockRepo := &MockBookingRepo{}
	mockEvents := &MockEvents{}
	mockLocks := &MockLocker{}
	service := newTestService(mockBookings, mockRepo, mockEvents, mockLocks)

	ctx := context.Background()
	booking := &domain.Booking{ID: "b-1", Status: domain.BookingStatusBooked}
	mockBookings.On("GetBooking", ctx, "b-1").Return(booking, nil).Once()
	expectLock(mockLocks, "b-1")
	mockEvents.On("Seen", ctx, "b-1|TICKETED|evt-1").Return(false, nil).Once()
	mockBookings.On("Transition", ctx, "b-1", domain.BookingStatusTicketed, "webhook:provider",
		mock.AnythingOfType("string")).Return(&domain.Booking{ID: "b-1", Status: domain.BookingStatusTicketed}, nil).Once()
	mockBookings.On("AttachTicket", ctx, "b-1", domain.TicketDetails{
		PNR: "ABC123", TicketNumbers: []string{"077-1234567890"},
	}).Return(nil).Once()
	mockEvents.On("MarkProcessed", ctx, "b-1|TICKETED|evt-1").Return(true, nil).Once()

	err := service.Process(ctx, Callback{
		ProviderReference: "b-1",
		Status:            "TICKETED",
		EventID:           "evt-1",
		Ticket:            &TicketData{PNR: "ABC123", TicketNumbers: []string{"077-1234567890"}},
	})

	assert.NoError(t, err)
	mockBookings.AssertExpectations(t)
	mockEvents.AssertExpectations(t)
	mockLocks.AssertExpectations(t)
}

func TestWebhookService_Process_ReplayedEventIsIgnored(t *testing.T) {
	mockBookings := &MockBookings{}
	mockEvents := &MockEvents{}
	mockLocks := &MockLocker{}
	service := newTestService(mockBookings, &MockBookingRepo{}, mockEvents, mockLocks)

	ctx := context.Background()
	booking := &domain.Booking{ID: "b-1", Status: domain.BookingStatusTicketed}
	mockBookings.On("GetBooking", ctx, "b-1").Return(booking, nil).Once()
	expectLock(mockLocks, "b-1")
	mockEvents.On("Seen", ctx, "b-1|TICKETED|evt-1").Return(true, nil).Once()

	err := service.Process(ctx, Callback{ProviderReference: "b-1", Status: "TICKETED", EventID: "evt-1"})

	assert.NoError(t, err)
	mockBookings.AssertNotCalled(t, "Transition")
	mockEvents.AssertNotCalled(t, "MarkProcessed")
}

func TestWebhookService_Process_MalformedPayload(t *testing.T) {
	service := newTestService(&MockBookings{}, &MockBookingRepo{}, &MockEvents{}, &MockLocker{})
	ctx := context.Background()

	err := service.Process(ctx, Callback{Status: "CONFIRMED"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = service.Process(ctx, Callback{ProviderReference: "b-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWebhookService_Process_UnknownStatusIsAcknowledged(t *testing.T) {
	mockBookings := &MockBookings{}
	service := newTestService(mockBookings, &MockBookingRepo{}, &MockEvents{}, &MockLocker{})

	err := service.Process(context.Background(), Callback{ProviderReference: "b-1", Status: "TELEPORTED"})

	assert.NoError(t, err)
	mockBookings.AssertNotCalled(t, "GetBooking")
	mockBookings.AssertNotCalled(t, "Transition")
}

func TestWebhookService_Process_UnknownBookingIsAcknowledged(t *testing.T) {
	mockBookings := &MockBookings{}
	mockRepo := &MockBookingRepo{}
	service := newTestService(mockBookings, mockRepo, &MockEvents{}, &MockLocker{})

	ctx := context.Background()
	mockBookings.On("GetBooking", ctx, "ghost").Return(nil, domain.ErrNotFound).Once()
	mockRepo.On("GetByProviderRef", ctx, "ghost").Return(nil, domain.ErrNotFound).Once()

	err := service.Process(ctx, Callback{ProviderReference: "ghost", Status: "CONFIRMED"})

	assert.NoError(t, err)
	mockBookings.AssertNotCalled(t, "Transition")
}

func TestWebhookService_Process_ResolvesByProviderRef(t *testing.T) {
	mockBookings := &MockBookings{}
	mockRepo := &MockBookingRepo{}
	mockEvents := &MockEvents{}
	mockLocks := &MockLocker{}
	service := newTestService(mockBookings, mockRepo, mockEvents, mockLocks)

	ctx := context.Background()
	booking := &domain.Booking{ID: "b-1", Status: domain.BookingStatusPending}
	mockBookings.On("GetBooking", ctx, "PROV-REF-9").Return(nil, domain.ErrNotFound).Once()
	mockRepo.On("GetByProviderRef", ctx, "PROV-REF-9").Return(booking, nil).Once()
	expectLock(mockLocks, "b-1")
	mockEvents.On("Seen", ctx, "PROV-REF-9|CONFIRMED|").Return(false, nil).Once()
	mockBookings.On("Transition", ctx, "b-1", domain.BookingStatusConfirmed, "webhook:provider",
		mock.AnythingOfType("string")).Return(&domain.Booking{ID: "b-1", Status: domain.BookingStatusConfirmed}, nil).Once()
	mockEvents.On("MarkProcessed", ctx, "PROV-REF-9|CONFIRMED|").Return(true, nil).Once()

	err := service.Process(ctx, Callback{ProviderReference: "PROV-REF-9", Status: "CONFIRMED"})

	assert.NoError(t, err)
	mockBookings.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestWebhookService_Process_OutOfOrderCallbackIsAcknowledged(t *testing.T) {
	mockBookings := &MockBookings{}
	mockEvents := &MockEvents{}
	mockLocks := &MockLocker{}
	service := newTestService(mockBookings, &MockBookingRepo{}, mockEvents, mockLocks)

	ctx := context.Background()
	booking := &domain.Booking{ID: "b-1", Status: domain.BookingStatusTicketed}
	mockBookings.On("GetBooking", ctx, "b-1").Return(booking, nil).Once()
	expectLock(mockLocks, "b-1")
	mockEvents.On("Seen", ctx, "b-1|BOOKED|evt-2").Return(false, nil).Once()
	mockBookings.On("Transition", ctx, "b-1", domain.BookingStatusBooked, "webhook:provider",
		mock.AnythingOfType("string")).Return(nil, domain.ErrInvalidTransition).Once()
	mockEvents.On("MarkProcessed", ctx, "b-1|BOOKED|evt-2").Return(true, nil).Once()

	err := service.Process(ctx, Callback{ProviderReference: "b-1", Status: "BOOKED", EventID: "evt-2"})

	assert.NoError(t, err)
	mockBookings.AssertExpectations(t)
	mockEvents.AssertExpectations(t)
}

// A replayed issuance callback whose first delivery lost the ticket write
// lands in the out-of-order branch; the PNR must still be persisted.
func TestWebhookService_Process_OutOfOrderReplayKeepsTicketData(t *testing.T) {
	mockBookings := &MockBookings{}
	mockEvents := &MockEvents{}
	mockLocks := &MockLocker{}
	service := newTestService(mockBookings, &MockBookingRepo{}, mockEvents, mockLocks)

	ctx := context.Background()
	booking := &domain.Booking{ID: "b-1", Status: domain.BookingStatusTicketed}
	mockBookings.On("GetBooking", ctx, "b-1").Return(booking, nil).Once()
	expectLock(mockLocks, "b-1")
	mockEvents.On("Seen", ctx, "b-1|TICKETED|evt-3").Return(false, nil).Once()
	mockBookings.On("Transition", ctx, "b-1", domain.BookingStatusTicketed, "webhook:provider",
		mock.AnythingOfType("string")).Return(nil, domain.ErrInvalidTransition).Once()
	mockBookings.On("AttachTicket", ctx, "b-1", domain.TicketDetails{PNR: "ABC123"}).Return(nil).Once()
	mockEvents.On("MarkProcessed", ctx, "b-1|TICKETED|evt-3").Return(true, nil).Once()

	err := service.Process(ctx, Callback{
		ProviderReference: "b-1",
		Status:            "TICKETED",
		EventID:           "evt-3",
		Ticket:            &TicketData{PNR: "ABC123"},
	})

	assert.NoError(t, err)
	mockBookings.AssertExpectations(t)
	mockEvents.AssertExpectations(t)
}

func TestWebhookService_Process_WaitsForBusyLock(t *testing.T) {
	mockBookings := &MockBookings{}
	mockEvents := &MockEvents{}
	mockLocks := &MockLocker{}
	service := newTestService(mockBookings, &MockBookingRepo{}, mockEvents, mockLocks)

	ctx := context.Background()
	booking := &domain.Booking{ID: "b-1", Status: domain.BookingStatusPending}
	mockBookings.On("GetBooking", ctx, "b-1").Return(booking, nil).Once()
	mockLocks.On("AcquireBookingLock", mock.Anything, "b-1", time.Second).Return(false, nil).Once()
	mockLocks.On("AcquireBookingLock", mock.Anything, "b-1", time.Second).Return(true, nil).Once()
	mockLocks.On("ReleaseBookingLock", mock.Anything, "b-1").Return(nil).Once()
	mockEvents.On("Seen", ctx, "b-1|CONFIRMED|").Return(false, nil).Once()
	mockBookings.On("Transition", ctx, "b-1", domain.BookingStatusConfirmed, "webhook:provider",
		mock.AnythingOfType("string")).Return(&domain.Booking{ID: "b-1", Status: domain.BookingStatusConfirmed}, nil).Once()
	mockEvents.On("MarkProcessed", ctx, "b-1|CONFIRMED|").Return(true, nil).Once()

	err := service.Process(ctx, Callback{ProviderReference: "b-1", Status: "CONFIRMED"})

	assert.NoError(t, err)
	mockLocks.AssertExpectations(t)
}
