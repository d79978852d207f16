package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tourtastic/tourtastic/internal/domain"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSearch(ctx context.Context, rec *domain.SearchRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) AppendOffers(ctx context.Context, searchID string, offers []domain.Offer) (int, error) {
	args := m.Called(ctx, searchID, offers)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) MarkComplete(ctx context.Context, searchID string) error {
	args := m.Called(ctx, searchID)
	return args.Error(0)
}

func (m *MockStore) GetSearch(ctx context.Context, searchID string) (*domain.SearchRecord, error) {
	args := m.Called(ctx, searchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SearchRecord), args.Error(1)
}

type MockFlightClient struct {
	mock.Mock
}

func (m *MockFlightClient) Login(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockFlightClient) Logout() {
	m.Called()
}

func (m *MockFlightClient) SearchOffers(ctx context.Context, criteria domain.SearchCriteria) ([]domain.Offer, bool, error) {
	args := m.Called(ctx, criteria)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.Offer), args.Bool(1), args.Error(2)
}

func testCriteria() domain.SearchCriteria {
	return domain.SearchCriteria{
		Origin:        "CAI",
		Destination:   "DXB",
		DepartureDate: time.Now().Add(48 * time.Hour),
		Adults:        1,
	}
}

func newTestService(store *MockStore, client *MockFlightClient) *SearchService {
	return &SearchService{
		store:        store,
		client:       client,
		ttl:          time.Hour,
		pollInterval: time.Millisecond,
		maxPolls:     3,
	}
}

func TestSearchService_SubmitSearch_Validation(t *testing.T) {
	service := newTestService(&MockStore{}, &MockFlightClient{})

	criteria := testCriteria()
	criteria.Origin = ""
	id, err := service.SubmitSearch(context.Background(), criteria)

	assert.Empty(t, id)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSearchService_SubmitSearch_ReturnsImmediately(t *testing.T) {
	mockStore := &MockStore{}
	mockClient := &MockFlightClient{}
	service := newTestService(mockStore, mockClient)

	mockStore.On("CreateSearch", mock.Anything, mock.AnythingOfType("*domain.SearchRecord")).
		Run(func(args mock.Arguments) {
			rec := args.Get(1).(*domain.SearchRecord)
			assert.NotEmpty(t, rec.ID)
			assert.False(t, rec.Complete)
			assert.WithinDuration(t, time.Now().Add(time.Hour), rec.ExpiresAt, time.Minute)
		}).Return(nil).Once()
	// The background poll may or may not run before the test finishes.
	mockClient.On("SearchOffers", mock.Anything, mock.Anything).Return([]domain.Offer{}, true, nil).Maybe()
	mockStore.On("MarkComplete", mock.Anything, mock.Anything).Return(nil).Maybe()

	id, err := service.SubmitSearch(context.Background(), testCriteria())

	assert.NoError(t, err)
	assert.NotEmpty(t, id)
	mockStore.AssertCalled(t, "CreateSearch", mock.Anything, mock.AnythingOfType("*domain.SearchRecord"))
}

func TestSearchService_GetResults_NotFound(t *testing.T) {
	mockStore := &MockStore{}
	service := newTestService(mockStore, &MockFlightClient{})

	ctx := context.Background()
	mockStore.On("GetSearch", ctx, "gone").Return(nil, domain.ErrNotFound).Once()

	rec, err := service.GetResults(ctx, "gone")

	assert.Nil(t, rec)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchService_Populate_AppendsUntilComplete(t *testing.T) {
	mockStore := &MockStore{}
	mockClient := &MockFlightClient{}
	service := newTestService(mockStore, mockClient)

	ctx := context.Background()
	criteria := testCriteria()
	first := []domain.Offer{{ID: "offer-1"}}
	second := []domain.Offer{{ID: "offer-1"}, {ID: "offer-2"}}

	mockClient.On("SearchOffers", ctx, criteria).Return(first, false, nil).Once()
	mockClient.On("SearchOffers", ctx, criteria).Return(second, true, nil).Once()
	mockStore.On("AppendOffers", ctx, "s-1", first).Return(1, nil).Once()
	mockStore.On("AppendOffers", ctx, "s-1", second).Return(1, nil).Once()
	mockStore.On("MarkComplete", ctx, "s-1").Return(nil).Once()

	service.populate(ctx, "s-1", criteria)

	mockClient.AssertExpectations(t)
	mockStore.AssertExpectations(t)
}

func TestSearchService_Populate_StopsWhenRecordExpires(t *testing.T) {
	mockStore := &MockStore{}
	mockClient := &MockFlightClient{}
	service := newTestService(mockStore, mockClient)

	ctx := context.Background()
	criteria := testCriteria()
	offers := []domain.Offer{{ID: "offer-1"}}

	mockClient.On("SearchOffers", ctx, criteria).Return(offers, false, nil).Once()
	mockStore.On("AppendOffers", ctx, "s-1", offers).Return(0, domain.ErrNotFound).Once()

	service.populate(ctx, "s-1", criteria)

	mockStore.AssertNotCalled(t, "MarkComplete")
}

func TestSearchService_Populate_RetriesUpstreamErrors(t *testing.T) {
	mockStore := &MockStore{}
	mockClient := &MockFlightClient{}
	service := newTestService(mockStore, mockClient)

	ctx := context.Background()
	criteria := testCriteria()
	offers := []domain.Offer{{ID: "offer-1"}}

	mockClient.On("SearchOffers", ctx, criteria).Return(nil, false, domain.ErrUpstream).Once()
	mockClient.On("SearchOffers", ctx, criteria).Return(offers, true, nil).Once()
	mockStore.On("AppendOffers", ctx, "s-1", offers).Return(1, nil).Once()
	mockStore.On("MarkComplete", ctx, "s-1").Return(nil).Once()

	service.populate(ctx, "s-1", criteria)

	mockClient.AssertExpectations(t)
	mockStore.AssertExpectations(t)
}

func TestSearchService_Populate_AbortsOnNonUpstreamError(t *testing.T) {
	mockStore := &MockStore{}
	mockClient := &MockFlightClient{}
	service := newTestService(mockStore, mockClient)

	ctx := context.Background()
	criteria := testCriteria()

	mockClient.On("SearchOffers", ctx, criteria).Return(nil, false, errors.New("decode provider offer: boom")).Once()
	mockStore.On("MarkComplete", ctx, "s-1").Return(nil).Once()

	service.populate(ctx, "s-1", criteria)

	mockClient.AssertNumberOfCalls(t, "SearchOffers", 1)
}
