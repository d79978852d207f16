package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tourtastic/tourtastic/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByProviderRef(ctx context.Context, ref string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
	// TransitionStatus applies a compare-and-swap on the current status and
	// appends one timeline entry in the same transaction. Returns false when
	// the booking was no longer in the expected status.
	TransitionStatus(ctx context.Context, id string, from, to domain.BookingStatus, entry domain.TimelineEntry) (bool, error)
	AddPayment(ctx context.Context, id string, txn domain.PaymentTransaction, status domain.PaymentStatus) error
	SetTicketDetails(ctx context.Context, id string, details domain.TicketDetails) error
	UpdateAdminData(ctx context.Context, id string, admin domain.AdminData) error
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingCols = `id, user_id, search_id, offer_id, offer, contact, passengers,
status, payment_status, admin_data, ticket_details, created_at, updated_at`

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	offer, err := json.Marshal(booking.Offer)
	if err != nil {
		return err
	}
	contact, err := json.Marshal(booking.Contact)
	if err != nil {
		return err
	}
	passengers, err := json.Marshal(booking.Passengers)
	if err != nil {
		return err
	}
	admin, err := json.Marshal(booking.AdminData)
	if err != nil {
		return err
	}
	tickets, err := json.Marshal(booking.TicketDetails)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO bookings (id, user_id, search_id, offer_id, offer, contact, passengers, status, payment_status, admin_data, ticket_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		booking.ID, booking.UserID, booking.SearchID, booking.OfferID, offer, contact, passengers,
		booking.Status, booking.PaymentStatus, admin, tickets, booking.CreatedAt, booking.UpdatedAt); err != nil {
		return err
	}

	if len(booking.Timeline) != 1 {
		return errors.New("new booking must carry exactly one timeline entry")
	}
	first := booking.Timeline[0]
	if _, err := tx.Exec(ctx, `INSERT INTO booking_timeline (booking_id, status, at, note, actor) VALUES ($1, $2, $3, $4, $5)`,
		booking.ID, first.Status, first.At, first.Note, first.Actor); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id=$1`, id)
	return r.scanBooking(ctx, row)
}

func (r *PGBookingRepository) GetByProviderRef(ctx context.Context, ref string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE admin_data->>'provider_ref'=$1`, ref)
	return r.scanBooking(ctx, row)
}

func (r *PGBookingRepository) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingCols+` FROM bookings WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range bookings {
		if err := r.loadHistory(ctx, &bookings[i]); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

func (r *PGBookingRepository) TransitionStatus(ctx context.Context, id string, from, to domain.BookingStatus, entry domain.TimelineEntry) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// updated_at is stamped here explicitly with the entry timestamp; there
	// are no storage-side lifecycle hooks.
	cmd, err := tx.Exec(ctx, `UPDATE bookings SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		to, entry.At, id, from)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `INSERT INTO booking_timeline (booking_id, status, at, note, actor) VALUES ($1, $2, $3, $4, $5)`,
		id, entry.Status, entry.At, entry.Note, entry.Actor); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (r *PGBookingRepository) AddPayment(ctx context.Context, id string, txn domain.PaymentTransaction, status domain.PaymentStatus) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO booking_payments (booking_id, at, amount_cents, kind, reference) VALUES ($1, $2, $3, $4, $5)`,
		id, txn.At, txn.AmountCents, txn.Kind, txn.Reference); err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `UPDATE bookings SET payment_status=$1, updated_at=$2 WHERE id=$3`, status, txn.At, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}

	return tx.Commit(ctx)
}

func (r *PGBookingRepository) SetTicketDetails(ctx context.Context, id string, details domain.TicketDetails) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE bookings SET ticket_details=$1, updated_at=$2 WHERE id=$3`, payload, time.Now(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *PGBookingRepository) UpdateAdminData(ctx context.Context, id string, admin domain.AdminData) error {
	payload, err := json.Marshal(admin)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE bookings SET admin_data=$1, updated_at=$2 WHERE id=$3`, payload, time.Now(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookingRow(row rowScanner) (*domain.Booking, error) {
	var (
		b          domain.Booking
		offer      []byte
		contact    []byte
		passengers []byte
		admin      []byte
		tickets    []byte
	)
	err := row.Scan(&b.ID, &b.UserID, &b.SearchID, &b.OfferID, &offer, &contact, &passengers,
		&b.Status, &b.PaymentStatus, &admin, &tickets, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(offer, &b.Offer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contact, &b.Contact); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(passengers, &b.Passengers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(admin, &b.AdminData); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tickets, &b.TicketDetails); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PGBookingRepository) scanBooking(ctx context.Context, row pgx.Row) (*domain.Booking, error) {
	b, err := scanBookingRow(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PGBookingRepository) loadHistory(ctx context.Context, b *domain.Booking) error {
	rows, err := r.db.Query(ctx, `SELECT status, at, note, actor FROM booking_timeline WHERE booking_id=$1 ORDER BY seq`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	b.Timeline = b.Timeline[:0]
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.Status, &e.At, &e.Note, &e.Actor); err != nil {
			return err
		}
		b.Timeline = append(b.Timeline, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	payRows, err := r.db.Query(ctx, `SELECT at, amount_cents, kind, reference FROM booking_payments WHERE booking_id=$1 ORDER BY seq`, b.ID)
	if err != nil {
		return err
	}
	defer payRows.Close()
	b.Payments = b.Payments[:0]
	for payRows.Next() {
		var t domain.PaymentTransaction
		if err := payRows.Scan(&t.At, &t.AmountCents, &t.Kind, &t.Reference); err != nil {
			return err
		}
		b.Payments = append(b.Payments, t)
	}
	return payRows.Err()
}

var _ BookingRepository = (*PGBookingRepository)(nil)
