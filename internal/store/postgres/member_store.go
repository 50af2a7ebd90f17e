package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.MemberStore = (*MemberStore)(nil)

// MemberStore implements domain.MemberStore using PostgreSQL.
type MemberStore struct {
	pool *pgxpool.Pool
}

// NewMemberStore creates a new MemberStore.
func NewMemberStore(pool *pgxpool.Pool) *MemberStore {
	return &MemberStore{pool: pool}
}

// Register inserts the member unless it exists. The returned bool is true
// when a row was created.
func (s *MemberStore) Register(ctx context.Context, m domain.Member) (domain.Member, bool, error) {
	const insert = `
		INSERT INTO members (id, sponsor_id, registered_at)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, insert, m.ID, m.SponsorID, m.RegisteredAt)
	if err != nil {
		return domain.Member{}, false, fmt.Errorf("postgres: register member %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return m, true, nil
	}
	existing, err := s.GetByID(ctx, m.ID)
	if err != nil {
		return domain.Member{}, false, err
	}
	return existing, false, nil
}

// GetByID returns a member by id.
func (s *MemberStore) GetByID(ctx context.Context, id string) (domain.Member, error) {
	const query = `SELECT id, COALESCE(sponsor_id, ''), registered_at FROM members WHERE id = $1`
	var m domain.Member
	if err := s.pool.QueryRow(ctx, query, id).Scan(&m.ID, &m.SponsorID, &m.RegisteredAt); err != nil {
		return domain.Member{}, fmt.Errorf("postgres: get member %s: %w", id, notFound(err))
	}
	return m, nil
}
