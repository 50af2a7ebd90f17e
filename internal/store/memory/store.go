// Package memory implements the domain store interfaces in process. All
// stores created from one Store share a single mutex, so compound operations
// such as a slot claim are atomic across boards, instances, positions and
// the ledger exactly as they are inside a PostgreSQL transaction.
package memory

import (
	"sync"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

type ledgerKey struct {
	source string
	typ    domain.BonusType
	level  int
}

// Store is the shared state behind the memory-backed stores.
type Store struct {
	mu sync.Mutex

	boards     map[string]domain.Board
	boardOrder []string

	members map[string]domain.Member

	instances     map[string]*domain.Instance
	instanceSeq   map[string]int64
	instanceOrder []string
	origins       map[string]string
	seq           int64

	positions map[string]*domain.Position
	slots     map[string]map[int]string

	ledger      map[string]*domain.LedgerEntry
	ledgerOrder []string
	ledgerKeys  map[ledgerKey]string
	memberKeys  map[ledgerKey]string

	audit   []domain.AuditEntry
	auditID int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		boards:      make(map[string]domain.Board),
		members:     make(map[string]domain.Member),
		instances:   make(map[string]*domain.Instance),
		instanceSeq: make(map[string]int64),
		origins:     make(map[string]string),
		positions:   make(map[string]*domain.Position),
		slots:       make(map[string]map[int]string),
		ledger:      make(map[string]*domain.LedgerEntry),
		ledgerKeys:  make(map[ledgerKey]string),
		memberKeys:  make(map[ledgerKey]string),
	}
}

// Boards returns a BoardStore view of s.
func (s *Store) Boards() *BoardStore { return &BoardStore{s: s} }

// Members returns a MemberStore view of s.
func (s *Store) Members() *MemberStore { return &MemberStore{s: s} }

// Instances returns an InstanceStore view of s.
func (s *Store) Instances() *InstanceStore { return &InstanceStore{s: s} }

// Positions returns a PositionStore view of s.
func (s *Store) Positions() *PositionStore { return &PositionStore{s: s} }

// Ledger returns a LedgerStore view of s.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{s: s} }

// Audit returns an AuditStore view of s.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

func (s *Store) postLocked(e domain.LedgerEntry) bool {
	key := ledgerKey{source: e.SourcePositionID, typ: e.Type, level: e.Level}
	if _, dup := s.ledgerKeys[key]; dup {
		return false
	}
	memberKey := ledgerKey{source: e.SourceMemberID, typ: e.Type, level: e.Level}
	if e.SourceMemberID != "" {
		if _, dup := s.memberKeys[memberKey]; dup {
			return false
		}
	}
	if _, dup := s.ledger[e.ID]; dup {
		return false
	}
	if e.Status == "" {
		e.Status = domain.LedgerStatusPending
	}
	cp := e
	s.ledger[e.ID] = &cp
	s.ledgerOrder = append(s.ledgerOrder, e.ID)
	s.ledgerKeys[key] = e.ID
	if e.SourceMemberID != "" {
		s.memberKeys[memberKey] = e.ID
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
