package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.InstanceStore = (*InstanceStore)(nil)

// InstanceStore implements domain.InstanceStore in memory.
type InstanceStore struct {
	s *Store
}

func (i *InstanceStore) Allocate(_ context.Context, alloc domain.InstanceAllocation) (domain.Instance, domain.Position, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	if alloc.OriginPositionID != "" {
		if _, ok := i.s.origins[alloc.OriginPositionID]; ok {
			return domain.Instance{}, domain.Position{}, fmt.Errorf("memory: allocate instance from %s: %w",
				alloc.OriginPositionID, domain.ErrAlreadyExists)
		}
	}
	if board, ok := i.s.boards[alloc.BoardID]; ok && board.Geometry().Capacity() != alloc.Capacity {
		return domain.Instance{}, domain.Position{}, fmt.Errorf("memory: allocate instance on %s: geometry changed: %w",
			alloc.BoardID, domain.ErrBoardLocked)
	}
	if alloc.MaxInstances > 0 {
		open := 0
		for _, inst := range i.s.instances {
			if inst.BoardID == alloc.BoardID && inst.Status == domain.InstanceStatusOpen {
				open++
			}
		}
		if open >= alloc.MaxInstances {
			return domain.Instance{}, domain.Position{}, fmt.Errorf("memory: allocate instance on %s: %w",
				alloc.BoardID, domain.ErrBoardFull)
		}
	}

	at := alloc.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	inst := &domain.Instance{
		ID:               uuid.NewString(),
		BoardID:          alloc.BoardID,
		RootMemberID:     alloc.RootMemberID,
		OriginPositionID: alloc.OriginPositionID,
		Status:           domain.InstanceStatusOpen,
		Capacity:         alloc.Capacity,
		CreatedAt:        at,
	}
	root := &domain.Position{
		ID:         uuid.NewString(),
		BoardID:    alloc.BoardID,
		InstanceID: inst.ID,
		SlotIndex:  0,
		OccupantID: alloc.RootMemberID,
		Status:     domain.PositionStatusOpen,
		CreatedAt:  at,
	}
	if alloc.RootFilled {
		root.Status = domain.PositionStatusFilled
		root.FilledAt = &at
		inst.Filled = 1
	}
	root.Commissioned = alloc.OriginPositionID != ""

	i.s.seq++
	i.s.instances[inst.ID] = inst
	i.s.instanceSeq[inst.ID] = i.s.seq
	i.s.instanceOrder = append(i.s.instanceOrder, inst.ID)
	if alloc.OriginPositionID != "" {
		i.s.origins[alloc.OriginPositionID] = inst.ID
	}
	i.s.positions[root.ID] = root
	i.s.slots[inst.ID] = map[int]string{0: root.ID}

	return *inst, *root, nil
}

func (i *InstanceStore) GetByID(_ context.Context, id string) (domain.Instance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	inst, ok := i.s.instances[id]
	if !ok {
		return domain.Instance{}, fmt.Errorf("memory: get instance %s: %w", id, domain.ErrNotFound)
	}
	return *inst, nil
}

func (i *InstanceStore) FindByOrigin(_ context.Context, originPositionID string) (domain.Instance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	id, ok := i.s.origins[originPositionID]
	if !ok {
		return domain.Instance{}, fmt.Errorf("memory: find instance by origin %s: %w", originPositionID, domain.ErrNotFound)
	}
	return *i.s.instances[id], nil
}

func (i *InstanceStore) FindPendingRoot(_ context.Context, boardID, memberID string) (domain.Instance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	for _, id := range i.s.instanceOrder {
		inst := i.s.instances[id]
		if inst.BoardID != boardID || inst.Status != domain.InstanceStatusOpen || inst.RootMemberID != memberID {
			continue
		}
		root := i.s.positions[i.s.slots[inst.ID][0]]
		if root.Status == domain.PositionStatusOpen {
			return *inst, nil
		}
	}
	return domain.Instance{}, fmt.Errorf("memory: find pending root %s on %s: %w", memberID, boardID, domain.ErrNotFound)
}

func (i *InstanceStore) ListByBoard(_ context.Context, boardID string, opts domain.ListOpts) ([]domain.Instance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var out []domain.Instance
	for k := len(i.s.instanceOrder) - 1; k >= 0; k-- {
		inst := i.s.instances[i.s.instanceOrder[k]]
		if inst.BoardID != boardID {
			continue
		}
		if opts.Since != nil && inst.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && inst.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, *inst)
	}
	return paginate(out, opts), nil
}

func (i *InstanceStore) Counts(_ context.Context, boardID string) (domain.InstanceCounts, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var c domain.InstanceCounts
	for _, inst := range i.s.instances {
		if inst.BoardID != boardID {
			continue
		}
		c.Total++
		switch inst.Status {
		case domain.InstanceStatusOpen:
			c.Open++
			c.FilledOpen += int64(inst.Filled)
			c.CapacityOpen += int64(inst.Capacity)
		case domain.InstanceStatusCycled:
			c.Cycled++
		}
	}
	return c, nil
}

func (i *InstanceStore) ListFullOpen(_ context.Context, limit int) ([]domain.Instance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var out []domain.Instance
	for _, id := range i.s.instanceOrder {
		inst := i.s.instances[id]
		if inst.Status == domain.InstanceStatusOpen && inst.Filled >= inst.Capacity {
			out = append(out, *inst)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (i *InstanceStore) ListCycledBefore(_ context.Context, before time.Time, limit int) ([]domain.Instance, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var out []domain.Instance
	for _, inst := range i.s.instances {
		if inst.Status == domain.InstanceStatusCycled && inst.CycledAt != nil && inst.CycledAt.Before(before) {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CycledAt.Before(*out[b].CycledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
