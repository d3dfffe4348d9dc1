// Package planstore holds the scan orchestrator's most recent full set of
// proposed plans, replaced atomically per scan, plus the confirm-mode queue
// and the idempotent executed-plan set.
package planstore

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"predict-scanner/pkg/types"
)

// PlanID hashes (market_id, outcome, mode) into a stable plan id. The same
// triple always produces the same id, so a capture-mode and a carry-mode
// plan for the same market coexist as distinct rows, and the same plan
// across scans upserts rather than duplicates.
func PlanID(marketID string, outcome types.Outcome, mode types.PlanMode) string {
	sum := sha1.Sum([]byte(marketID + "|" + string(outcome) + "|" + string(mode)))
	return hex.EncodeToString(sum[:])[:16]
}

// Store is the single-writer, multi-reader plan store.
type Store struct {
	mu       sync.RWMutex
	plans    map[string]types.TradePlan
	queue    map[string]bool
	executed map[string]bool
}

// New creates an empty plan store.
func New() *Store {
	return &Store{
		plans:    make(map[string]types.TradePlan),
		queue:    make(map[string]bool),
		executed: make(map[string]bool),
	}
}

// SetPlans atomically replaces the store's full plan set with newPlans.
// Upsert semantics: plans already present preserve CreatedAt; all plans get
// a fresh UpdatedAt. Plans absent from newPlans are removed. Idempotent
// modulo UpdatedAt: calling twice with an identical payload leaves every
// field but UpdatedAt unchanged, and CreatedAt is preserved.
func (s *Store) SetPlans(newPlans []types.TradePlan, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]types.TradePlan, len(newPlans))
	for _, p := range newPlans {
		if existing, ok := s.plans[p.PlanID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		next[p.PlanID] = p
	}
	s.plans = next
}

// Get returns a plan by id.
func (s *Store) Get(planID string) (types.TradePlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	return p, ok
}

// All returns every plan currently in the store, in stable order: net_ev
// descending, then created_at descending, then plan_id ascending.
func (s *Store) All() []types.TradePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.TradePlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EVBreakdown.NetEV != out[j].EVBreakdown.NetEV {
			return out[i].EVBreakdown.NetEV > out[j].EVBreakdown.NetEV
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].PlanID < out[j].PlanID
	})
	return out
}

// Count returns the unfiltered number of plans in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

// Enqueue stages a plan for confirm-mode execution and marks it queued.
func (s *Store) Enqueue(planID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[planID] = true
	if p, ok := s.plans[planID]; ok {
		p.Status = types.StatusQueued
		s.plans[planID] = p
	}
}

// QueueLength returns the number of plans currently queued.
func (s *Store) QueueLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

// IsExecuted reports whether planID has already been executed.
func (s *Store) IsExecuted(planID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executed[planID]
}

// MarkPlanExecuted idempotently marks planID as executed and sets its
// status + ExecutedAt. Returns false on the first call for an id and true
// on every later call for it; the first call never returns true, so a
// false result is the one that lets the caller open a position.
func (s *Store) MarkPlanExecuted(planID string, now time.Time) (alreadyExecuted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.executed[planID] {
		return true
	}
	s.executed[planID] = true
	delete(s.queue, planID)
	if p, ok := s.plans[planID]; ok {
		p.Status = types.StatusExecuted
		p.ExecutedAt = now
		p.HasExecutedAt = true
		s.plans[planID] = p
	}
	return false
}

// ClearQueue drops both the queue and the executed set, used by panic.
func (s *Store) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = make(map[string]bool)
	s.executed = make(map[string]bool)
}
