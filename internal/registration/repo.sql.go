package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thew0lf/avnz-app/internal/platform/db"
	"github.com/thew0lf/avnz-app/internal/rbac"
	"github.com/thew0lf/avnz-app/internal/shared"
)

// firstAdminMarker is the system_markers row claimed by the first registration.
const firstAdminMarker = "first_admin"

// Store is the transaction-scoped persistence surface for one registration.
// Rbac exposes the role/permission store bound to the same transaction so the
// administrator bootstrap commits or rolls back with the tenant writes.
type Store interface {
	FindProjectByName(ctx context.Context, name string) (int64, error)
	CreateProject(ctx context.Context, name string) (int64, error)
	CreateClient(ctx context.Context, name string) (int64, error)
	CreateCompany(ctx context.Context, name string) (int64, error)
	CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error)
	AttachClientUser(ctx context.Context, clientID, userID int64) error
	AttachCompanyUser(ctx context.Context, companyID, userID int64) error
	AttachProjectUser(ctx context.Context, projectID, userID int64) error
	ClaimFirstUser(ctx context.Context) (bool, error)
	Rbac() rbac.Store
}

// Repository opens the transaction a registration runs inside.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) FindProjectByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `SELECT id FROM projects WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func (s *txStore) CreateProject(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO projects (name, created_at, updated_at) VALUES ($1, NOW(), NOW()) RETURNING id`,
		name,
	).Scan(&id)
	return id, mapUnique(err)
}

func (s *txStore) CreateClient(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO clients (name, created_at, updated_at) VALUES ($1, NOW(), NOW()) RETURNING id`,
		name,
	).Scan(&id)
	return id, mapUnique(err)
}

func (s *txStore) CreateCompany(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO companies (name, created_at, updated_at) VALUES ($1, NOW(), NOW()) RETURNING id`,
		name,
	).Scan(&id)
	return id, mapUnique(err)
}

func (s *txStore) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	var id int64
	now := time.Now().UTC()
	err := s.tx.QueryRow(ctx,
		`INSERT INTO users (key, name, email, password_hash, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5, $5) RETURNING id`,
		uuid.NewString(), name, strings.ToLower(strings.TrimSpace(email)), passwordHash, now,
	).Scan(&id)
	return id, mapUnique(err)
}

func (s *txStore) AttachClientUser(ctx context.Context, clientID, userID int64) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO client_user (client_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		clientID, userID)
	return err
}

func (s *txStore) AttachCompanyUser(ctx context.Context, companyID, userID int64) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO company_user (company_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		companyID, userID)
	return err
}

func (s *txStore) AttachProjectUser(ctx context.Context, projectID, userID int64) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO project_user (project_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		projectID, userID)
	return err
}

// ClaimFirstUser atomically claims the first-admin marker. Exactly one
// committed registration ever observes true, no matter how many run
// concurrently.
func (s *txStore) ClaimFirstUser(ctx context.Context) (bool, error) {
	tag, err := s.tx.Exec(ctx,
		`INSERT INTO system_markers (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		firstAdminMarker)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *txStore) Rbac() rbac.Store {
	return rbac.NewTxStore(s.tx)
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
var _ Store = (*txStore)(nil)
