package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/soltax/service/metrics"
	"github.com/brojonat/soltax/service/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentTable = "payment_requests"

const pgErrUniqueViolation = "23505"

// Store persists payment requests in Postgres. It implements payment.Store;
// state transitions are conditional updates so that several server and
// worker processes can poll the same request.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const requestColumns = `id, export_type, wallet_address, range_start, range_end, amount_lamports,
	status, payment_address, created_at, expires_at, transaction_signature, paid_at, consumed_at`

// Create inserts a new payment request.
func (s *Store) Create(ctx context.Context, r *payment.Request) (err error) {
	defer s.observe("create", time.Now(), &err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID,
		string(r.ExportType),
		r.WalletAddress,
		r.DateRange.Start,
		r.DateRange.End,
		int64(r.AmountLamports),
		string(r.Status),
		r.PaymentAddress,
		r.CreatedAt,
		r.ExpiresAt,
		pgtextFromString(r.TransactionSignature),
		pgtimestamptzFromPtr(r.PaidAt),
		pgtimestamptzFromPtr(r.ConsumedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate id %s", payment.ErrInvalidRequest, r.ID)
		}
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

// Get retrieves a payment request by id.
func (s *Store) Get(ctx context.Context, id string) (r *payment.Request, err error) {
	defer s.observe("get", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`, id)
	r, err = scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment request: %w", err)
	}
	return r, nil
}

// MarkPaid settles a pending request. It returns payment.ErrNotPending with
// the current row when the request already left pending, and
// payment.ErrSignatureClaimed when another request owns signature.
func (s *Store) MarkPaid(ctx context.Context, id, signature string, paidAt time.Time) (r *payment.Request, err error) {
	defer s.observe("mark_paid", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		UPDATE payment_requests
		SET status = 'paid', transaction_signature = $2, paid_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns,
		id, signature, paidAt,
	)
	r, err = scanRequest(row)
	switch {
	case err == nil:
		return r, nil
	case isUniqueViolation(err):
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, payment.ErrSignatureClaimed
	case errors.Is(err, pgx.ErrNoRows):
		return s.notPending(ctx, id)
	default:
		return nil, fmt.Errorf("mark payment request paid: %w", err)
	}
}

// MarkExpired expires a pending request.
func (s *Store) MarkExpired(ctx context.Context, id string) (r *payment.Request, err error) {
	defer s.observe("mark_expired", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		UPDATE payment_requests
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns,
		id,
	)
	r, err = scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.notPending(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment request expired: %w", err)
	}
	return r, nil
}

// MarkConsumed records that a paid request unlocked its export. Only the
// first call on a paid request succeeds; later calls get
// payment.ErrAlreadyConsumed and requests that are not paid get
// payment.ErrPaymentRequired.
func (s *Store) MarkConsumed(ctx context.Context, id string, at time.Time) (r *payment.Request, err error) {
	defer s.observe("mark_consumed", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		UPDATE payment_requests
		SET consumed_at = $2
		WHERE id = $1 AND status = 'paid' AND consumed_at IS NULL
		RETURNING `+requestColumns,
		id, at,
	)
	r, err = scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != payment.StatusPaid {
			return current, payment.ErrPaymentRequired
		}
		return current, payment.ErrAlreadyConsumed
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment request consumed: %w", err)
	}
	return r, nil
}

// ListPending returns every pending request, oldest deadline first.
func (s *Store) ListPending(ctx context.Context) (out []*payment.Request, err error) {
	defer s.observe("list_pending", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM payment_requests
		WHERE status = 'pending'
		ORDER BY expires_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending payment requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSettledBefore removes non-pending requests created before cutoff.
func (s *Store) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (n int, err error) {
	defer s.observe("delete_settled", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM payment_requests
		WHERE status <> 'pending' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete settled payment requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) notPending(ctx context.Context, id string) (*payment.Request, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, payment.ErrNotPending
}

func (s *Store) observe(op string, start time.Time, err *error) {
	var e error
	if err != nil && *err != nil && !isExpected(*err) {
		e = *err
	}
	s.metrics.RecordDBQuery(op, paymentTable, time.Since(start).Seconds(), e)
}

func isExpected(err error) bool {
	return errors.Is(err, payment.ErrNotFound) ||
		errors.Is(err, payment.ErrNotPending) ||
		errors.Is(err, payment.ErrSignatureClaimed) ||
		errors.Is(err, payment.ErrAlreadyConsumed) ||
		errors.Is(err, payment.ErrPaymentRequired)
}

func scanRequest(row pgx.Row) (*payment.Request, error) {
	var (
		r          payment.Request
		exportType string
		status     string
		amount     int64
		signature  pgtype.Text
		paidAt     pgtype.Timestamptz
		consumedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&r.ID,
		&exportType,
		&r.WalletAddress,
		&r.DateRange.Start,
		&r.DateRange.End,
		&amount,
		&status,
		&r.PaymentAddress,
		&r.CreatedAt,
		&r.ExpiresAt,
		&signature,
		&paidAt,
		&consumedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ExportType = payment.ExportType(exportType)
	r.Status = payment.Status(status)
	r.AmountLamports = uint64(amount)
	r.DateRange.Start = r.DateRange.Start.UTC()
	r.DateRange.End = r.DateRange.End.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	if signature.Valid {
		r.TransactionSignature = signature.String
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		r.PaidAt = &t
	}
	if consumedAt.Valid {
		t := consumedAt.Time.UTC()
		r.ConsumedAt = &t
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func pgtextFromString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func pgtimestamptzFromPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

var _ payment.Store = (*Store)(nil)
