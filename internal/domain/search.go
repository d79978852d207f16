package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type SearchCriteria struct {
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	DepartureDate time.Time  `json:"departure_date"`
	ReturnDate    *time.Time `json:"return_date,omitempty"`
	Adults        int        `json:"adults"`
	Children      int        `json:"children"`
	Infants       int        `json:"infants"`
}

func (c SearchCriteria) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("%w: origin is required", ErrValidation)
	}
	if c.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if c.Adults < 1 {
		return fmt.Errorf("%w: at least one adult is required", ErrValidation)
	}
	if c.Children < 0 || c.Infants < 0 {
		return fmt.Errorf("%w: passenger counts must not be negative", ErrValidation)
	}
	return nil
}

// Seats returns the total number of seats the criteria asks for.
// Infants travel on a lap and do not count.
func (c SearchCriteria) Seats() int {
	return c.Adults + c.Children
}

// Offer is a single priced itinerary returned by the provider. ID is
// provider-assigned and is the dedupe identity for repeated deliveries.
// Raw keeps the provider payload verbatim so a booking can freeze it.
type Offer struct {
	ID            string          `json:"id"`
	Carrier       string          `json:"carrier"`
	FlightNumber  string          `json:"flight_number"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	DepartureTime time.Time       `json:"departure_time"`
	ArrivalTime   time.Time       `json:"arrival_time"`
	PriceCents    int64           `json:"price_cents"`
	Currency      string          `json:"currency"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// SearchRecord is the ephemeral cache entry for one submitted search.
// It expires exactly at ExpiresAt regardless of read activity.
type SearchRecord struct {
	ID        string         `json:"id"`
	Criteria  SearchCriteria `json:"criteria"`
	Offers    []Offer        `json:"offers"`
	Complete  bool           `json:"complete"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (r *SearchRecord) FindOffer(offerID string) (*Offer, bool) {
	for i := range r.Offers {
		if r.Offers[i].ID == offerID {
			return &r.Offers[i], true
		}
	}
	return nil, false
}
