package search

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/internal/provider"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

type SearchUseCase interface {
	SubmitSearch(ctx context.Context, criteria domain.SearchCriteria) (string, error)
	GetResults(ctx context.Context, searchID string) (*domain.SearchRecord, error)
}

// Store is the ephemeral search record cache. Records disappear exactly at
// their deadline; the store owns eviction, the service never deletes.
type Store interface {
	CreateSearch(ctx context.Context, rec *domain.SearchRecord) error
	AppendOffers(ctx context.Context, searchID string, offers []domain.Offer) (int, error)
	MarkComplete(ctx context.Context, searchID string) error
	GetSearch(ctx context.Context, searchID string) (*domain.SearchRecord, error)
}

type SearchService struct {
	store        Store
	client       provider.FlightClient
	ttl          time.Duration
	pollInterval time.Duration
	maxPolls     int
}

func NewSearchService(store Store, client provider.FlightClient, ttl, pollInterval time.Duration, maxPolls int) *SearchService {
	if maxPolls <= 0 {
		maxPolls = 10
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &SearchService{
		store:        store,
		client:       client,
		ttl:          ttl,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
	}
}

// SubmitSearch validates the criteria, creates the record and returns its id
// immediately. Offers accumulate in the background while clients poll.
func (s *SearchService) SubmitSearch(ctx context.Context, criteria domain.SearchCriteria) (string, error) {
	if err := criteria.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	rec := &domain.SearchRecord{
		ID:        uuid.NewString(),
		Criteria:  criteria,
		Complete:  false,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSearch(ctx, rec); err != nil {
		return "", err
	}

	go s.populate(context.WithoutCancel(ctx), rec.ID, criteria)

	return rec.ID, nil
}

func (s *SearchService) GetResults(ctx context.Context, searchID string) (*domain.SearchRecord, error) {
	return s.store.GetSearch(ctx, searchID)
}

// populate polls the provider until it reports the result set complete, with
// bounded attempts and exponential backoff on temporary upstream failures.
// Appends are idempotent on offer identity, so a provider re-delivering the
// same offer across polls never duplicates it.
func (s *SearchService) populate(ctx context.Context, searchID string, criteria domain.SearchCriteria) {
	backoff := s.pollInterval

	for attempt := 0; attempt < s.maxPolls; attempt++ {
		offers, complete, err := s.client.SearchOffers(ctx, criteria)
		if err != nil {
			if !errors.Is(err, domain.ErrUpstream) {
				logger.Error("search population aborted", "search_id", searchID, "error", err)
				break
			}
			logger.Warn("provider poll failed, backing off", "search_id", searchID, "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		backoff = s.pollInterval

		if len(offers) > 0 {
			if _, err := s.store.AppendOffers(ctx, searchID, offers); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					// Record already expired; nobody can read it anymore.
					return
				}
				logger.Error("append offers failed", "search_id", searchID, "error", err)
				return
			}
		}

		if complete {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}

	if err := s.store.MarkComplete(ctx, searchID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Error("mark search complete failed", "search_id", searchID, "error", err)
	}
}

var _ SearchUseCase = (*SearchService)(nil)
