package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	s *Store
}

func (p *PositionStore) Claim(_ context.Context, claim domain.SlotClaim) (domain.ClaimResult, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	inst, ok := p.s.instances[claim.InstanceID]
	if !ok {
		return domain.ClaimResult{}, fmt.Errorf("memory: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, domain.ErrNotFound)
	}
	if inst.Status != domain.InstanceStatusOpen {
		return domain.ClaimResult{}, fmt.Errorf("memory: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, domain.ErrInstanceClosed)
	}

	slots := p.s.slots[claim.InstanceID]
	for idx, id := range slots {
		if idx != claim.SlotIndex && p.s.positions[id].OccupantID == claim.MemberID {
			return domain.ClaimResult{}, fmt.Errorf("memory: claim %s/%d for %s: %w",
				claim.InstanceID, claim.SlotIndex, claim.MemberID, domain.ErrMemberAlreadyPlaced)
		}
	}

	existing, exists := slots[claim.SlotIndex]
	if exists {
		cur := p.s.positions[existing]
		if cur.Status != domain.PositionStatusOpen || (cur.OccupantID != "" && cur.OccupantID != claim.MemberID) {
			return domain.ClaimResult{}, fmt.Errorf("memory: claim %s/%d: %w", claim.InstanceID, claim.SlotIndex, domain.ErrSlotTaken)
		}
	}
	for _, a := range claim.Ancestors {
		if _, ok := slots[a]; !ok {
			return domain.ClaimResult{}, fmt.Errorf("memory: claim %s/%d: ancestor slot %d missing",
				claim.InstanceID, claim.SlotIndex, a)
		}
	}

	at := claim.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var pos *domain.Position
	if exists {
		pos = p.s.positions[existing]
	} else {
		pos = &domain.Position{
			ID:         uuid.NewString(),
			BoardID:    claim.BoardID,
			InstanceID: claim.InstanceID,
			SlotIndex:  claim.SlotIndex,
			CreatedAt:  at,
		}
		p.s.positions[pos.ID] = pos
		slots[claim.SlotIndex] = pos.ID
	}
	pos.OccupantID = claim.MemberID
	pos.Status = domain.PositionStatusFilled
	pos.FilledAt = &at
	inst.Filled++

	res := domain.ClaimResult{Position: *pos, Instance: *inst}
	for _, a := range claim.Ancestors {
		anc := p.s.positions[slots[a]]
		anc.FilledBelow++
		res.Ancestors = append(res.Ancestors, nodeState(anc))
	}
	return res, nil
}

func (p *PositionStore) CompleteCycle(_ context.Context, c domain.CycleCompletion) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	id, ok := p.s.slots[c.InstanceID][c.SlotIndex]
	if !ok {
		return false, fmt.Errorf("memory: complete cycle %s/%d: %w", c.InstanceID, c.SlotIndex, domain.ErrNotFound)
	}
	pos := p.s.positions[id]
	if pos.Status != domain.PositionStatusFilled {
		return false, nil
	}

	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	pos.Status = domain.PositionStatusCycled
	pos.CycledAt = &at
	if c.Entry != nil {
		p.s.postLocked(*c.Entry)
	}
	if c.IsRoot {
		inst := p.s.instances[c.InstanceID]
		inst.Status = domain.InstanceStatusCycled
		inst.CycledAt = &at
	}
	return true, nil
}

func (p *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pos, ok := p.s.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: get position %s: %w", id, domain.ErrNotFound)
	}
	return *pos, nil
}

func (p *PositionStore) GetSlot(_ context.Context, instanceID string, slotIndex int) (domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	id, ok := p.s.slots[instanceID][slotIndex]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: get slot %s/%d: %w", instanceID, slotIndex, domain.ErrNotFound)
	}
	return *p.s.positions[id], nil
}

func (p *PositionStore) ListByInstance(_ context.Context, instanceID string) ([]domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]domain.Position, 0, len(p.s.slots[instanceID]))
	for _, id := range p.s.slots[instanceID] {
		out = append(out, *p.s.positions[id])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SlotIndex < out[b].SlotIndex })
	return out, nil
}

func (p *PositionStore) ListByOccupant(_ context.Context, memberID string) ([]domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.Position
	for _, pos := range p.s.positions {
		if pos.OccupantID == memberID {
			out = append(out, *pos)
		}
	}
	p.sortNewestFirst(out)
	return out, nil
}

func (p *PositionStore) ListActiveByOccupant(_ context.Context, boardID, memberID string) ([]domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.Position
	for _, pos := range p.s.positions {
		if pos.BoardID != boardID || pos.OccupantID != memberID || pos.Status == domain.PositionStatusCycled {
			continue
		}
		if p.s.instances[pos.InstanceID].Status != domain.InstanceStatusOpen {
			continue
		}
		out = append(out, *pos)
	}
	p.sortNewestFirst(out)
	return out, nil
}

func (p *PositionStore) ListCycledAwaitingReentry(_ context.Context, limit int) ([]domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.Position
	for _, pos := range p.s.positions {
		if pos.Status == domain.PositionStatusCycled && !pos.Reentered {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CycledAt.Before(*out[b].CycledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *PositionStore) MarkReentered(_ context.Context, positionID, instanceID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pos, ok := p.s.positions[positionID]
	if !ok {
		return fmt.Errorf("memory: mark reentered %s: %w", positionID, domain.ErrNotFound)
	}
	pos.Reentered = true
	pos.RecycledInto = instanceID
	return nil
}

func (p *PositionStore) ListUncommissioned(_ context.Context, limit int) ([]domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []domain.Position
	for _, pos := range p.s.positions {
		if pos.Status.Occupied() && !pos.Commissioned {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].FilledAt.Equal(*out[b].FilledAt) {
			return out[a].FilledAt.Before(*out[b].FilledAt)
		}
		sa, sb := p.s.instanceSeq[out[a].InstanceID], p.s.instanceSeq[out[b].InstanceID]
		if sa != sb {
			return sa < sb
		}
		return out[a].SlotIndex < out[b].SlotIndex
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *PositionStore) MarkCommissioned(_ context.Context, positionID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pos, ok := p.s.positions[positionID]
	if !ok {
		return fmt.Errorf("memory: mark commissioned %s: %w", positionID, domain.ErrNotFound)
	}
	pos.Commissioned = true
	return nil
}

// sortNewestFirst orders by instance creation, newest first, then by slot.
// Callers hold the lock.
func (p *PositionStore) sortNewestFirst(out []domain.Position) {
	sort.Slice(out, func(a, b int) bool {
		sa, sb := p.s.instanceSeq[out[a].InstanceID], p.s.instanceSeq[out[b].InstanceID]
		if sa != sb {
			return sa > sb
		}
		return out[a].SlotIndex < out[b].SlotIndex
	})
}

func nodeState(p *domain.Position) domain.NodeState {
	return domain.NodeState{
		PositionID:  p.ID,
		SlotIndex:   p.SlotIndex,
		OccupantID:  p.OccupantID,
		Status:      p.Status,
		FilledBelow: p.FilledBelow,
	}
}
