// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/gift"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/storage"
)

// uniqueViolation is the Postgres error code raised on unique index conflicts.
const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ParentStore = (*Store)(nil)
var _ storage.ChildStore = (*Store)(nil)
var _ storage.VoteStore = (*Store)(nil)
var _ storage.GiftStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- row types ---------------------------------------------------------------

type parentRow struct {
	ID                 string    `db:"id"`
	Email              string    `db:"email"`
	Name               string    `db:"name"`
	PasswordHash       string    `db:"password_hash"`
	WalletBalanceCents int64     `db:"wallet_balance_cents"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r parentRow) toDomain() parent.Parent {
	return parent.Parent(r)
}

type entryRow struct {
	ID            string         `db:"id"`
	OwnerID       string         `db:"owner_id"`
	EntryType     string         `db:"entry_type"`
	AmountCents   int64          `db:"amount_cents"`
	Status        string         `db:"status"`
	CorrelationID sql.NullString `db:"correlation_id"`
	FromName      string         `db:"from_name"`
	FromEmail     string         `db:"from_email"`
	Message       string         `db:"message"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r entryRow) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Type:          ledger.EntryType(r.EntryType),
		AmountCents:   r.AmountCents,
		Status:        ledger.EntryStatus(r.Status),
		CorrelationID: r.CorrelationID.String,
		FromName:      r.FromName,
		FromEmail:     r.FromEmail,
		Message:       r.Message,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type childRow struct {
	ID                   string    `db:"id"`
	ParentID             string    `db:"parent_id"`
	DisplayName          string    `db:"display_name"`
	ShareSlug            string    `db:"share_slug"`
	Score365             int       `db:"score365"`
	NeighborBalanceCents int64     `db:"neighbor_balance_cents"`
	DonorCount           int64     `db:"donor_count"`
	DonorTotalCents      int64     `db:"donor_total_cents"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r childRow) toDomain() child.Child {
	return child.Child(r)
}

type giftRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	PriceCents  int64     `db:"price_cents"`
	PricePoints int       `db:"price_points"`
	ImageURL    string    `db:"image_url"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r giftRow) toDomain() gift.Gift {
	return gift.Gift(r)
}

type orderRow struct {
	ID          string    `db:"id"`
	ChildID     string    `db:"child_id"`
	GiftID      string    `db:"gift_id"`
	Status      string    `db:"status"`
	PointsSpent int       `db:"points_spent"`
	PriceCents  int64     `db:"price_cents"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r orderRow) toDomain() gift.Order {
	return gift.Order{
		ID:          r.ID,
		ChildID:     r.ChildID,
		GiftID:      r.GiftID,
		Status:      gift.OrderStatus(r.Status),
		PointsSpent: r.PointsSpent,
		PriceCents:  r.PriceCents,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// --- ParentStore -------------------------------------------------------------

func (s *Store) CreateParent(ctx context.Context, p parent.Parent) (parent.Parent, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parents (id, email, name, password_hash, wallet_balance_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Email, p.Name, p.PasswordHash, p.WalletBalanceCents, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return parent.Parent{}, fmt.Errorf("email %s already registered", p.Email)
		}
		return parent.Parent{}, err
	}
	return p, nil
}

func (s *Store) UpdateParent(ctx context.Context, p parent.Parent) (parent.Parent, error) {
	existing, err := s.GetParent(ctx, p.ID)
	if err != nil {
		return parent.Parent{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE parents
		SET email = $2, name = $3, password_hash = $4, wallet_balance_cents = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Email, p.Name, p.PasswordHash, p.WalletBalanceCents, p.UpdatedAt)
	if err != nil {
		return parent.Parent{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return parent.Parent{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetParent(ctx context.Context, id string) (parent.Parent, error) {
	var row parentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, name, password_hash, wallet_balance_cents, created_at, updated_at
		FROM parents
		WHERE id = $1
	`, id)
	if err != nil {
		return parent.Parent{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetParentByEmail(ctx context.Context, email string) (parent.Parent, error) {
	var row parentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, name, password_hash, wallet_balance_cents, created_at, updated_at
		FROM parents
		WHERE LOWER(email) = LOWER($1)
	`, email)
	if err != nil {
		return parent.Parent{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListParents(ctx context.Context) ([]parent.Parent, error) {
	var rows []parentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, email, name, password_hash, wallet_balance_cents, created_at, updated_at
		FROM parents
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	result := make([]parent.Parent, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) SetWalletBalance(ctx context.Context, parentID string, balanceCents int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE parents
		SET wallet_balance_cents = $2, updated_at = $3
		WHERE id = $1
	`, parentID, balanceCents, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CreateWalletEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, parent_id, entry_type, amount_cents, status, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.OwnerID, string(e.Type), e.AmountCents, string(e.Status), nullable(e.CorrelationID), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Entry{}, fmt.Errorf("wallet entry with correlation %s already exists", e.CorrelationID)
		}
		return ledger.Entry{}, err
	}
	return e, nil
}

const walletEntryColumns = `
	id, parent_id AS owner_id, entry_type, amount_cents, status, correlation_id,
	'' AS from_name, '' AS from_email, '' AS message, created_at, updated_at`

func (s *Store) GetWalletEntry(ctx context.Context, id string) (ledger.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+walletEntryColumns+`
		FROM wallet_entries
		WHERE id = $1
	`, id)
	if err != nil {
		return ledger.Entry{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetWalletEntryByCorrelation(ctx context.Context, correlationID string) (ledger.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+walletEntryColumns+`
		FROM wallet_entries
		WHERE correlation_id = $1
	`, correlationID)
	if err != nil {
		return ledger.Entry{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListWalletEntries(ctx context.Context, parentID string) ([]ledger.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+walletEntryColumns+`
		FROM wallet_entries
		WHERE parent_id = $1
		ORDER BY created_at
	`, parentID)
	if err != nil {
		return nil, err
	}
	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListPendingWalletEntries(ctx context.Context, olderThan time.Time) ([]ledger.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+walletEntryColumns+`
		FROM wallet_entries
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
	`, olderThan)
	if err != nil {
		return nil, err
	}
	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) TransitionWalletEntry(ctx context.Context, id string, from, to ledger.EntryStatus) (ledger.Entry, error) {
	if !ledger.CanTransition(from, to) {
		return ledger.Entry{}, fmt.Errorf("wallet entry cannot move from %s to %s", from, to)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE wallet_entries
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return ledger.Entry{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.Entry{}, fmt.Errorf("wallet entry %s is not %s", id, from)
	}
	return s.GetWalletEntry(ctx, id)
}

// --- ChildStore --------------------------------------------------------------

func (s *Store) CreateChild(ctx context.Context, c child.Child) (child.Child, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Score365 = child.ClampScore(c.Score365)
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO children (id, parent_id, display_name, share_slug, score365, neighbor_balance_cents, donor_count, donor_total_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.ParentID, c.DisplayName, c.ShareSlug, c.Score365, c.NeighborBalanceCents, c.DonorCount, c.DonorTotalCents, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return child.Child{}, fmt.Errorf("share slug %s already assigned", c.ShareSlug)
		}
		return child.Child{}, err
	}
	return c, nil
}

func (s *Store) UpdateChild(ctx context.Context, c child.Child) (child.Child, error) {
	existing, err := s.GetChild(ctx, c.ID)
	if err != nil {
		return child.Child{}, err
	}
	c.Score365 = child.ClampScore(c.Score365)
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE children
		SET display_name = $2, share_slug = $3, score365 = $4, neighbor_balance_cents = $5, donor_count = $6, donor_total_cents = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.DisplayName, c.ShareSlug, c.Score365, c.NeighborBalanceCents, c.DonorCount, c.DonorTotalCents, c.UpdatedAt)
	if err != nil {
		return child.Child{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return child.Child{}, sql.ErrNoRows
	}
	return c, nil
}

const childColumns = `
	id, parent_id, display_name, share_slug, score365, neighbor_balance_cents,
	donor_count, donor_total_cents, created_at, updated_at`

func (s *Store) GetChild(ctx context.Context, id string) (child.Child, error) {
	var row childRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+childColumns+`
		FROM children
		WHERE id = $1
	`, id)
	if err != nil {
		return child.Child{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetChildBySlug(ctx context.Context, slug string) (child.Child, error) {
	var row childRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+childColumns+`
		FROM children
		WHERE LOWER(share_slug) = LOWER($1)
	`, slug)
	if err != nil {
		return child.Child{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListChildren(ctx context.Context, parentID string) ([]child.Child, error) {
	query := `
		SELECT ` + childColumns + `
		FROM children
		ORDER BY created_at`
	args := []any{}
	if parentID != "" {
		query = `
		SELECT ` + childColumns + `
		FROM children
		WHERE parent_id = $1
		ORDER BY created_at`
		args = append(args, parentID)
	}

	var rows []childRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]child.Child, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) SetNeighborBalance(ctx context.Context, childID string, balanceCents int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE children
		SET neighbor_balance_cents = $2, updated_at = $3
		WHERE id = $1
	`, childID, balanceCents, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) IncrementDonorTotals(ctx context.Context, childID string, amountCents int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE children
		SET donor_count = donor_count + 1, donor_total_cents = donor_total_cents + $2, updated_at = $3
		WHERE id = $1
	`, childID, amountCents, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SpendScore(ctx context.Context, childID string, points int) (child.Child, error) {
	if points <= 0 {
		return child.Child{}, fmt.Errorf("points must be positive")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE children
		SET score365 = score365 - $2, updated_at = $3
		WHERE id = $1 AND score365 >= $2
	`, childID, points, time.Now().UTC())
	if err != nil {
		return child.Child{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Distinguish a missing child from an underfunded score.
		if _, getErr := s.GetChild(ctx, childID); getErr != nil {
			return child.Child{}, getErr
		}
		return child.Child{}, child.ErrInsufficientScore
	}
	return s.GetChild(ctx, childID)
}

func (s *Store) CreateNeighborEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO neighbor_entries (id, child_id, entry_type, amount_cents, status, correlation_id, from_name, from_email, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.OwnerID, string(e.Type), e.AmountCents, string(e.Status), nullable(e.CorrelationID), e.FromName, e.FromEmail, e.Message, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Entry{}, fmt.Errorf("neighbor entry with correlation %s already exists", e.CorrelationID)
		}
		return ledger.Entry{}, err
	}
	return e, nil
}

const neighborEntryColumns = `
	id, child_id AS owner_id, entry_type, amount_cents, status, correlation_id,
	from_name, from_email, message, created_at, updated_at`

func (s *Store) GetNeighborEntry(ctx context.Context, id string) (ledger.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+neighborEntryColumns+`
		FROM neighbor_entries
		WHERE id = $1
	`, id)
	if err != nil {
		return ledger.Entry{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetNeighborEntryByCorrelation(ctx context.Context, correlationID string) (ledger.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+neighborEntryColumns+`
		FROM neighbor_entries
		WHERE correlation_id = $1
	`, correlationID)
	if err != nil {
		return ledger.Entry{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListNeighborEntries(ctx context.Context, childID string) ([]ledger.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+neighborEntryColumns+`
		FROM neighbor_entries
		WHERE child_id = $1
		ORDER BY created_at
	`, childID)
	if err != nil {
		return nil, err
	}
	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListPendingNeighborEntries(ctx context.Context, olderThan time.Time) ([]ledger.Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+neighborEntryColumns+`
		FROM neighbor_entries
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
	`, olderThan)
	if err != nil {
		return nil, err
	}
	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) TransitionNeighborEntry(ctx context.Context, id string, from, to ledger.EntryStatus) (ledger.Entry, error) {
	if !ledger.CanTransition(from, to) {
		return ledger.Entry{}, fmt.Errorf("neighbor entry cannot move from %s to %s", from, to)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE neighbor_entries
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return ledger.Entry{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.Entry{}, fmt.Errorf("neighbor entry %s is not %s", id, from)
	}
	return s.GetNeighborEntry(ctx, id)
}

// --- VoteStore ---------------------------------------------------------------

func (s *Store) LastVoteDay(ctx context.Context, parentID, childID string) (string, error) {
	var day sql.NullString
	err := s.db.GetContext(ctx, &day, `
		SELECT MAX(TO_CHAR(vote_date, 'YYYY-MM-DD'))
		FROM parent_votes
		WHERE parent_id = $1 AND child_id = $2
	`, parentID, childID)
	if err != nil {
		return "", err
	}
	return day.String, nil
}

// CastVote runs the whole vote composite in one transaction. The conditional
// insert into parent_votes is the daily gate; the wallet balance is recomputed
// from the ledger inside the same transaction so a concurrent confirmation or
// refund cannot slip between the check and the debit.
func (s *Store) CastVote(ctx context.Context, req storage.CastVoteRequest) (storage.CastVoteResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.CastVoteResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	gate, err := tx.ExecContext(ctx, `
		INSERT INTO parent_votes (parent_id, child_id, vote_date, points, cost_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (parent_id, child_id, vote_date) DO NOTHING
	`, req.ParentID, req.ChildID, req.Day, req.Points, req.CostCents, now)
	if err != nil {
		return storage.CastVoteResult{}, err
	}
	if rows, _ := gate.RowsAffected(); rows == 0 {
		return storage.CastVoteResult{}, parent.ErrAlreadyVoted
	}

	var balance int64
	err = tx.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM wallet_entries
		WHERE parent_id = $1 AND status = 'SUCCEEDED'
	`, req.ParentID)
	if err != nil {
		return storage.CastVoteResult{}, err
	}
	if balance < req.CostCents {
		return storage.CastVoteResult{}, ledger.ErrInsufficientBalance
	}

	entry := ledger.Entry{
		ID:          uuid.NewString(),
		OwnerID:     req.ParentID,
		Type:        ledger.TypeAdjustment,
		AmountCents: -req.CostCents,
		Status:      ledger.StatusSucceeded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, parent_id, entry_type, amount_cents, status, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
	`, entry.ID, entry.OwnerID, string(entry.Type), entry.AmountCents, string(entry.Status), entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return storage.CastVoteResult{}, err
	}

	newBalance := balance - req.CostCents
	_, err = tx.ExecContext(ctx, `
		UPDATE parents
		SET wallet_balance_cents = $2, updated_at = $3
		WHERE id = $1
	`, req.ParentID, newBalance, now)
	if err != nil {
		return storage.CastVoteResult{}, err
	}

	var newScore int
	err = tx.GetContext(ctx, &newScore, `
		UPDATE children
		SET score365 = LEAST(score365 + $2, 365), updated_at = $3
		WHERE id = $1
		RETURNING score365
	`, req.ChildID, req.Points, now)
	if err != nil {
		return storage.CastVoteResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.CastVoteResult{}, err
	}
	return storage.CastVoteResult{
		NewScore:        newScore,
		NewBalanceCents: newBalance,
		Entry:           entry,
	}, nil
}

// --- GiftStore ---------------------------------------------------------------

func (s *Store) CreateGift(ctx context.Context, g gift.Gift) (gift.Gift, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gifts (id, name, description, price_cents, price_points, image_url, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.Name, g.Description, g.PriceCents, g.PricePoints, g.ImageURL, g.Active, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return gift.Gift{}, err
	}
	return g, nil
}

func (s *Store) UpdateGift(ctx context.Context, g gift.Gift) (gift.Gift, error) {
	existing, err := s.GetGift(ctx, g.ID)
	if err != nil {
		return gift.Gift{}, err
	}
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE gifts
		SET name = $2, description = $3, price_cents = $4, price_points = $5, image_url = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, g.ID, g.Name, g.Description, g.PriceCents, g.PricePoints, g.ImageURL, g.Active, g.UpdatedAt)
	if err != nil {
		return gift.Gift{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return gift.Gift{}, sql.ErrNoRows
	}
	return g, nil
}

func (s *Store) GetGift(ctx context.Context, id string) (gift.Gift, error) {
	var row giftRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, description, price_cents, price_points, image_url, active, created_at, updated_at
		FROM gifts
		WHERE id = $1
	`, id)
	if err != nil {
		return gift.Gift{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListGifts(ctx context.Context, activeOnly bool) ([]gift.Gift, error) {
	query := `
		SELECT id, name, description, price_cents, price_points, image_url, active, created_at, updated_at
		FROM gifts
		ORDER BY name`
	if activeOnly {
		query = `
		SELECT id, name, description, price_cents, price_points, image_url, active, created_at, updated_at
		FROM gifts
		WHERE active
		ORDER BY name`
	}

	var rows []giftRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	result := make([]gift.Gift, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) CreateOrder(ctx context.Context, o gift.Order) (gift.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gift_orders (id, child_id, gift_id, status, points_spent, price_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.ChildID, o.GiftID, string(o.Status), o.PointsSpent, o.PriceCents, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return gift.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o gift.Order) (gift.Order, error) {
	existing, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		return gift.Order{}, err
	}
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE gift_orders
		SET status = $2, points_spent = $3, price_cents = $4, updated_at = $5
		WHERE id = $1
	`, o.ID, string(o.Status), o.PointsSpent, o.PriceCents, o.UpdatedAt)
	if err != nil {
		return gift.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return gift.Order{}, sql.ErrNoRows
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (gift.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, child_id, gift_id, status, points_spent, price_cents, created_at, updated_at
		FROM gift_orders
		WHERE id = $1
	`, id)
	if err != nil {
		return gift.Order{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListOrders(ctx context.Context, childID string) ([]gift.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, child_id, gift_id, status, points_spent, price_cents, created_at, updated_at
		FROM gift_orders
		WHERE child_id = $1
		ORDER BY created_at
	`, childID)
	if err != nil {
		return nil, err
	}
	result := make([]gift.Order, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListOrdersForParent(ctx context.Context, parentID string) ([]gift.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT o.id, o.child_id, o.gift_id, o.status, o.points_spent, o.price_cents, o.created_at, o.updated_at
		FROM gift_orders o
		JOIN children c ON c.id = o.child_id
		WHERE c.parent_id = $1
		ORDER BY o.created_at
	`, parentID)
	if err != nil {
		return nil, err
	}
	result := make([]gift.Order, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
