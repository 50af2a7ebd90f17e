package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	s *Store
}

func (a *AuditStore) Log(_ context.Context, event domain.AuditEvent, detail map[string]any) error {
	boardID, memberID := domain.AuditSubject(detail)
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.auditID++
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:        a.s.auditID,
		Event:     event,
		BoardID:   boardID,
		MemberID:  memberID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.list(opts, func(domain.AuditEntry) bool { return true }), nil
}

func (a *AuditStore) ListByMember(_ context.Context, memberID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.list(opts, func(e domain.AuditEntry) bool { return e.MemberID == memberID }), nil
}

func (a *AuditStore) list(opts domain.ListOpts, keep func(domain.AuditEntry) bool) []domain.AuditEntry {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []domain.AuditEntry
	for k := len(a.s.audit) - 1; k >= 0; k-- {
		e := a.s.audit[k]
		if !keep(e) {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts)
}
