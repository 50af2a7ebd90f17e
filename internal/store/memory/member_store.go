package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.MemberStore = (*MemberStore)(nil)

// MemberStore implements domain.MemberStore in memory.
type MemberStore struct {
	s *Store
}

func (m *MemberStore) Register(_ context.Context, member domain.Member) (domain.Member, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existing, ok := m.s.members[member.ID]; ok {
		return existing, false, nil
	}
	m.s.members[member.ID] = member
	return member, true, nil
}

func (m *MemberStore) GetByID(_ context.Context, id string) (domain.Member, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	member, ok := m.s.members[id]
	if !ok {
		return domain.Member{}, fmt.Errorf("memory: get member %s: %w", id, domain.ErrNotFound)
	}
	return member, nil
}
