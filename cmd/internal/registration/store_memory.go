package registration

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the dev-mode fallback when no database is configured.
//
// A single mutex serializes all mutation, which makes the uniqueness,
// capacity and transition contracts trivially atomic; tests rely on this
// store to exercise the same properties the Postgres store guarantees.
type MemoryStore struct {
	capacity CapacityResolver

	mu      sync.RWMutex
	regs    map[string]Registration // id -> registration
	byPair  map[string]string       // userID+"\x00"+eventID -> id
	byEvent map[string]int64        // eventID -> registration count
}

// NewMemoryStore constructs an in-memory Store.
// The resolver supplies event existence and capacity; it is consulted inside
// the creation critical section.
func NewMemoryStore(capacity CapacityResolver) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		regs:     make(map[string]Registration),
		byPair:   make(map[string]string),
		byEvent:  make(map[string]int64),
	}
}

// Create inserts a new registration, enforcing uniqueness and capacity.
func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Registration, error) {
	if s == nil || s.capacity == nil {
		return Registration{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.UserID) == "" ||
		strings.TrimSpace(in.EventID) == "" || strings.TrimSpace(in.Credential) == "" {
		return Registration{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit, ok, err := s.capacity.EventCapacity(ctx, in.EventID)
	if err != nil {
		return Registration{}, err
	}
	if !ok {
		return Registration{}, ErrEventNotFound
	}

	pair := pairKey(in.UserID, in.EventID)
	if _, exists := s.byPair[pair]; exists {
		return Registration{}, ErrAlreadyRegistered
	}
	if limit != nil && s.byEvent[in.EventID] >= int64(*limit) {
		return Registration{}, ErrCapacityExceeded
	}

	var metadata map[string]string
	if len(in.Metadata) > 0 {
		metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			metadata[k] = v
		}
	}

	reg := Registration{
		ID:           in.ID,
		UserID:       in.UserID,
		EventID:      in.EventID,
		Status:       StatusPending,
		Credential:   in.Credential,
		Metadata:     metadata,
		RegisteredAt: now,
	}
	s.regs[in.ID] = reg
	s.byPair[pair] = in.ID
	s.byEvent[in.EventID]++
	return reg, nil
}

// Get fetches a registration by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Registration, error) {
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regs[strings.TrimSpace(id)]
	if !ok {
		return Registration{}, ErrNotFound
	}
	return reg, nil
}

// MarkAttended performs the one-way pending->attended transition.
func (s *MemoryStore) MarkAttended(ctx context.Context, id string, now time.Time) (Registration, error) {
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Registration{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[id]
	if !ok {
		return Registration{}, ErrNotFound
	}
	if reg.Status == StatusAttended {
		return reg, ErrAlreadyAttended
	}

	reg.Status = StatusAttended
	scannedAt := now
	reg.ScannedAt = &scannedAt
	s.regs[id] = reg
	return reg, nil
}

// DeletePending removes a registration while it is still pending.
func (s *MemoryStore) DeletePending(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[id]
	if !ok {
		return ErrNotFound
	}
	if reg.Status == StatusAttended {
		return ErrAlreadyAttended
	}

	delete(s.regs, id)
	delete(s.byPair, pairKey(reg.UserID, reg.EventID))
	s.byEvent[reg.EventID]--
	return nil
}

// DeleteAllForEvent removes all registrations for an event.
func (s *MemoryStore) DeleteAllForEvent(ctx context.Context, eventID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return 0, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, reg := range s.regs {
		if reg.EventID != eventID {
			continue
		}
		delete(s.regs, id)
		delete(s.byPair, pairKey(reg.UserID, reg.EventID))
		removed++
	}
	delete(s.byEvent, eventID)
	return removed, nil
}

// ListForUser returns a user's registrations in creation order.
func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	var out []Registration
	for _, reg := range s.regs {
		if reg.UserID == userID {
			out = append(out, reg)
		}
	}
	s.mu.RUnlock()

	sortRegistrations(out)
	return out, nil
}

// ListAll returns every registration in creation order.
func (s *MemoryStore) ListAll(ctx context.Context) ([]Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		out = append(out, reg)
	}
	s.mu.RUnlock()

	sortRegistrations(out)
	return out, nil
}

// CountForEvent returns the current registration count for an event.
func (s *MemoryStore) CountForEvent(ctx context.Context, eventID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byEvent[strings.TrimSpace(eventID)], nil
}

func pairKey(userID, eventID string) string {
	return userID + "\x00" + eventID
}

// IDs are ULIDs, so creation order is id order.
func sortRegistrations(regs []Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
}
