// Package redisstore is a Redis-backed session.Store, backing the Session
// Isolator with the shared internal/kv client instead of an in-process map
// so sessions survive process restarts and are visible across replicas.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"n3n.dev/core/agent/session"
	"n3n.dev/core/internal/kv"
)

const keyPrefix = "n3n:session:"
const userIndexPrefix = "n3n:session:user:"

// Store is a Redis-backed session.Store.
type Store struct {
	kv kv.Client
}

// New builds a Store backed by the given kv.Client.
func New(client kv.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: kv client is required")
	}
	return &Store{kv: client}, nil
}

func sessionKey(id string) string  { return keyPrefix + id }
func userIndexKey(u string) string { return userIndexPrefix + u }

func (s *Store) Create(ctx context.Context, sess session.Session, ttl time.Duration) error {
	if _, err := s.kv.Get(ctx, sessionKey(sess.ID)); err == nil {
		return session.ErrSessionExists
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), string(raw), ttl); err != nil {
		return err
	}
	return s.kv.ZAdd(ctx, userIndexKey(sess.UserID), float64(sess.CreatedAt.Unix()), sess.ID)
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return session.Session{}, fmt.Errorf("redisstore: decode session: %w", err)
	}
	return sess, nil
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time, ttl time.Duration) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastAccessAt = at
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	return s.kv.Set(ctx, sessionKey(id), string(raw), ttl)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.kv.Del(ctx, sessionKey(id)); err != nil {
		return err
	}
	_, err = s.kv.Eval(ctx, "redis.call('ZREM', KEYS[1], ARGV[1]) return 1", []string{userIndexKey(sess.UserID)}, id)
	return err
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	raw, err := s.kv.Eval(ctx, "return redis.call('ZRANGE', KEYS[1], 0, -1)", []string{userIndexKey(userID)})
	if err != nil {
		return nil, err
	}
	ids, ok := raw.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]session.Session, 0, len(ids))
	for _, v := range ids {
		id, ok := v.(string)
		if !ok {
			continue
		}
		sess, err := s.Get(ctx, id)
		if errors.Is(err, session.ErrSessionNotFound) {
			// Lazily drop index entries for sessions that expired via TTL.
			_, _ = s.kv.Eval(ctx, "redis.call('ZREM', KEYS[1], ARGV[1]) return 1", []string{userIndexKey(userID)}, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
