// Package session generalises the teacher's runtime/agent/session durable
// session lifecycle contract to per-user conversational isolation: each
// (userID, conversationID) pair gets its own Session, capped per user with
// oldest-first eviction, and renewed on every access instead of living
// forever.
package session

import (
	"context"
	"errors"
	"time"

	flowerrors "n3n.dev/core/flow/errors"
)

type (
	// Session captures durable session lifecycle state for one conversation
	// owned by one user.
	Session struct {
		// ID is the durable identifier of the session.
		ID string
		// UserID is the owning user. Access is denied across user boundaries.
		UserID string
		// ConversationID identifies the conversation this session isolates.
		ConversationID string
		// CreatedAt records when the session was created.
		CreatedAt time.Time
		// LastAccessAt records the last time the session was touched, used for
		// TTL renewal. Oldest-first eviction orders sessions by CreatedAt.
		LastAccessAt time.Time
	}

	// Store persists Session state. Implementations must be safe for
	// concurrent use.
	Store interface {
		// Create inserts a new session. Returns ErrSessionExists if a session
		// with the same ID is already present.
		Create(ctx context.Context, s Session, ttl time.Duration) error
		// Get loads a session by ID. Returns ErrSessionNotFound when absent or
		// expired.
		Get(ctx context.Context, id string) (Session, error)
		// Touch renews a session's LastAccessAt and TTL.
		Touch(ctx context.Context, id string, at time.Time, ttl time.Duration) error
		// Delete removes a session. Idempotent.
		Delete(ctx context.Context, id string) error
		// ListByUser returns all live sessions for a user, oldest first by
		// CreatedAt.
		ListByUser(ctx context.Context, userID string) ([]Session, error)
	}
)

// ErrSessionNotFound indicates a session does not exist in the store.
var ErrSessionNotFound = errors.New("session: not found")

// ErrSessionExists indicates a session with the given ID already exists.
var ErrSessionExists = errors.New("session: already exists")

const (
	// DefaultTTL is the idle lifetime a session is renewed for on every
	// access.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxPerUser is the number of concurrent sessions a user may hold
	// before the oldest is evicted to make room for a new one.
	DefaultMaxPerUser = 10
)

// Isolator enforces per-user session isolation on top of a Store: session
// creation, cross-user access checks, and per-user capacity eviction.
type Isolator struct {
	store      Store
	ttl        time.Duration
	maxPerUser int
	now        func() time.Time
}

// Options configures an Isolator.
type Options struct {
	Store Store
	// TTL overrides DefaultTTL when non-zero.
	TTL time.Duration
	// MaxPerUser overrides DefaultMaxPerUser when non-zero.
	MaxPerUser int
	// Now overrides time.Now, for tests.
	Now func() time.Time
}

// New builds an Isolator.
func New(opts Options) (*Isolator, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxPerUser := opts.MaxPerUser
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Isolator{store: opts.Store, ttl: ttl, maxPerUser: maxPerUser, now: now}, nil
}

// CreateSession creates a new session for userID/conversationID, evicting the
// user's oldest session first if they are already at capacity.
func (iso *Isolator) CreateSession(ctx context.Context, userID, conversationID, sessionID string) (Session, error) {
	existing, err := iso.store.ListByUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if len(existing) >= iso.maxPerUser {
		oldest := existing[0]
		for _, s := range existing[1:] {
			if s.CreatedAt.Before(oldest.CreatedAt) {
				oldest = s
			}
		}
		if err := iso.store.Delete(ctx, oldest.ID); err != nil {
			return Session{}, err
		}
	}
	now := iso.now()
	s := Session{
		ID:             sessionID,
		UserID:         userID,
		ConversationID: conversationID,
		CreatedAt:      now,
		LastAccessAt:   now,
	}
	if err := iso.store.Create(ctx, s, iso.ttl); err != nil {
		return Session{}, err
	}
	return s, nil
}

// ValidateAccess loads a session and confirms it belongs to userID, renewing
// its TTL on success. Returns a PermissionDenied error when the session
// exists but belongs to a different user, and ErrSessionNotFound when it does
// not exist or has expired.
func (iso *Isolator) ValidateAccess(ctx context.Context, userID, sessionID string) (Session, error) {
	s, err := iso.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.UserID != userID {
		return Session{}, flowerrors.PermissionDenied("session_access_denied", "session does not belong to the requesting user")
	}
	now := iso.now()
	if err := iso.store.Touch(ctx, sessionID, now, iso.ttl); err != nil {
		return Session{}, err
	}
	s.LastAccessAt = now
	return s, nil
}

// TerminateSession ends a single session. Idempotent.
func (iso *Isolator) TerminateSession(ctx context.Context, sessionID string) error {
	return iso.store.Delete(ctx, sessionID)
}

// TerminateAllSessions ends every session owned by userID.
func (iso *Isolator) TerminateAllSessions(ctx context.Context, userID string) error {
	sessions, err := iso.store.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := iso.store.Delete(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}
