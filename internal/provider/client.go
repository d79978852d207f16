package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tourtastic/tourtastic/config"
	"github.com/tourtastic/tourtastic/internal/domain"
)

// FlightClient is the narrow surface the rest of the backend uses to talk to
// the provider.
type FlightClient interface {
	Login(ctx context.Context) error
	Logout()
	SearchOffers(ctx context.Context, criteria domain.SearchCriteria) ([]domain.Offer, bool, error)
}

type Client struct {
	transport *Transport
	session   *Session
	username  string
	password  string
}

func NewClient(cfg config.ProviderConfig, session *Session) *Client {
	return &Client{
		transport: NewTransport(cfg, session),
		session:   session,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) Login(ctx context.Context) error {
	var tokens tokenResponse
	if err := c.transport.Do(ctx, http.MethodPost, "/auth/login", loginRequest{Username: c.username, Password: c.password}, &tokens); err != nil {
		return fmt.Errorf("provider login: %w", err)
	}
	c.session.Login(Credentials{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken})
	return nil
}

func (c *Client) Logout() {
	c.session.Logout()
}

type searchRequest struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"`
	ReturnDate    string `json:"return_date,omitempty"`
	Adults        int    `json:"adults"`
	Children      int    `json:"children,omitempty"`
	Infants       int    `json:"infants,omitempty"`
}

type searchResponse struct {
	Offers   []json.RawMessage `json:"offers"`
	Complete bool              `json:"complete"`
}

type offerPayload struct {
	OfferID       string    `json:"offer_id"`
	Carrier       string    `json:"carrier"`
	FlightNumber  string    `json:"flight_number"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
	PriceCents    int64     `json:"price_cents"`
	Currency      string    `json:"currency"`
}

// SearchOffers runs one provider poll for the given criteria. The raw offer
// payload is kept verbatim alongside the mapped fields so bookings can freeze
// exactly what the provider sent.
func (c *Client) SearchOffers(ctx context.Context, criteria domain.SearchCriteria) ([]domain.Offer, bool, error) {
	req := searchRequest{
		Origin:        criteria.Origin,
		Destination:   criteria.Destination,
		DepartureDate: criteria.DepartureDate.Format("2006-01-02"),
		Adults:        criteria.Adults,
		Children:      criteria.Children,
		Infants:       criteria.Infants,
	}
	if criteria.ReturnDate != nil {
		req.ReturnDate = criteria.ReturnDate.Format("2006-01-02")
	}

	var resp searchResponse
	if err := c.transport.Do(ctx, http.MethodPost, "/flights/search", req, &resp); err != nil {
		return nil, false, err
	}

	offers := make([]domain.Offer, 0, len(resp.Offers))
	for _, raw := range resp.Offers {
		var p offerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false, fmt.Errorf("decode provider offer: %w", err)
		}
		offers = append(offers, domain.Offer{
			ID:            p.OfferID,
			Carrier:       p.Carrier,
			FlightNumber:  p.FlightNumber,
			Origin:        p.Origin,
			Destination:   p.Destination,
			DepartureTime: p.DepartureTime,
			ArrivalTime:   p.ArrivalTime,
			PriceCents:    p.PriceCents,
			Currency:      p.Currency,
			Raw:           raw,
		})
	}
	return offers, resp.Complete, nil
}

var _ FlightClient = (*Client)(nil)
