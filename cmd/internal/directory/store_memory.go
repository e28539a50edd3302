package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"qrpass/cmd/internal/ids"
	"qrpass/cmd/security/password"
)

// MemoryStore is the dev-mode fallback when no database is configured.
// It enforces the same uniqueness and expiry contracts as the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*memUser    // id -> user
	usernames map[string]string      // username -> id
	sessions  map[string]*memSession // token hash -> session
	events    map[string]EventSummary
}

type memUser struct {
	summary      UserSummary
	passwordHash string
}

type memSession struct {
	userID    string
	expiresAt time.Time
}

// NewMemoryStore constructs an empty in-memory directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*memUser),
		usernames: make(map[string]string),
		sessions:  make(map[string]*memSession),
		events:    make(map[string]EventSummary),
	}
}

// FindUser fetches a user by its reference.
func (s *MemoryStore) FindUser(ctx context.Context, ref string) (UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.TrimSpace(ref)]
	if !ok {
		return UserSummary{}, ErrNotFound
	}
	return u.summary, nil
}

// Authenticate verifies a username/password pair.
func (s *MemoryStore) Authenticate(ctx context.Context, username, pw string) (UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}
	username = normalizeUsername(username)
	if username == "" || pw == "" {
		return UserSummary{}, ErrAuthFailed
	}

	s.mu.RLock()
	id, ok := s.usernames[username]
	var u *memUser
	if ok {
		u = s.users[id]
	}
	s.mu.RUnlock()

	if u == nil {
		return UserSummary{}, ErrAuthFailed
	}
	ok, err := password.Verify(u.passwordHash, pw)
	if err != nil || !ok {
		return UserSummary{}, ErrAuthFailed
	}
	return u.summary, nil
}

// CreateUser inserts a new user.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}

	username := normalizeUsername(in.Username)
	if username == "" {
		return UserSummary{}, ErrInvalidInput
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := password.Hash(in.Password, password.DefaultParams())
	if err != nil {
		return UserSummary{}, err
	}
	userID, err := ids.NewULID(now)
	if err != nil {
		return UserSummary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usernames[username]; exists {
		return UserSummary{}, ErrConflict
	}

	summary := UserSummary{
		ID:          userID,
		Username:    username,
		DisplayName: displayName,
		IsAdmin:     in.IsAdmin,
		CreatedAt:   now,
	}
	s.users[userID] = &memUser{summary: summary, passwordHash: hash}
	s.usernames[username] = userID
	return summary, nil
}

// IssueSession creates a bearer session and returns the plain token.
func (s *MemoryStore) IssueSession(ctx context.Context, userRef string, ttl time.Duration, now time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		return "", ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	plain, err := ids.NewOpaqueToken(32)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userRef]; !ok {
		return "", ErrNotFound
	}
	s.sessions[hashSessionToken(plain)] = &memSession{
		userID:    userRef,
		expiresAt: now.Add(ttl),
	}
	return plain, nil
}

// ResolveSession maps a bearer token back to its user, honoring expiry.
func (s *MemoryStore) ResolveSession(ctx context.Context, token string, now time.Time) (UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return UserSummary{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return UserSummary{}, ErrNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[hashSessionToken(token)]
	if !ok || !sess.expiresAt.After(now) {
		return UserSummary{}, ErrNotFound
	}
	u, ok := s.users[sess.userID]
	if !ok {
		return UserSummary{}, ErrNotFound
	}
	return u.summary, nil
}

// GetEvent fetches an event by its reference.
func (s *MemoryStore) GetEvent(ctx context.Context, ref string) (EventSummary, error) {
	if err := ctx.Err(); err != nil {
		return EventSummary{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[strings.TrimSpace(ref)]
	if !ok {
		return EventSummary{}, ErrNotFound
	}
	return e, nil
}

// CreateEvent inserts a new event record.
func (s *MemoryStore) CreateEvent(ctx context.Context, in CreateEventInput) (EventSummary, error) {
	if err := ctx.Err(); err != nil {
		return EventSummary{}, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return EventSummary{}, ErrInvalidInput
	}
	if in.Capacity != nil && *in.Capacity < 0 {
		return EventSummary{}, ErrInvalidInput
	}
	status := in.Status
	switch status {
	case EventUpcoming, EventActive, EventCompleted:
	default:
		status = EventUpcoming
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	eventID, err := ids.NewULID(now)
	if err != nil {
		return EventSummary{}, err
	}

	e := EventSummary{
		ID:          eventID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Location:    strings.TrimSpace(in.Location),
		StartsAt:    in.StartsAt,
		Capacity:    in.Capacity,
		Status:      status,
		CreatedBy:   strings.TrimSpace(in.CreatedBy),
		CreatedAt:   now,
	}

	s.mu.Lock()
	s.events[eventID] = e
	s.mu.Unlock()
	return e, nil
}

// ListEvents returns all events ordered by start time.
func (s *MemoryStore) ListEvents(ctx context.Context) ([]EventSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]EventSummary, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortEvents(out)
	return out, nil
}

// DeleteEvent removes an event record.
func (s *MemoryStore) DeleteEvent(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref = strings.TrimSpace(ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ref]; !ok {
		return ErrNotFound
	}
	delete(s.events, ref)
	return nil
}

// EventCapacity reports the capacity of an event for the ledger's in-memory
// store. ok is false when the event does not exist.
func (s *MemoryStore) EventCapacity(ctx context.Context, ref string) (capacity *int32, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.events[strings.TrimSpace(ref)]
	if !found {
		return nil, false, nil
	}
	return e.Capacity, true, nil
}

func sortEvents(events []EventSummary) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartsAt.Equal(events[j].StartsAt) {
			return events[i].StartsAt.Before(events[j].StartsAt)
		}
		return events[i].ID < events[j].ID
	})
}
