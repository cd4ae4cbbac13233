// Package drafts keeps in-progress editing sessions in Redis so a draft
// survives a restart and can be resumed from another terminal.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// DefaultTTL bounds how long an untouched draft is kept.
const DefaultTTL = 12 * time.Hour

// ErrNotFound is returned when a draft does not exist or has expired.
var ErrNotFound = fmt.Errorf("%w: draft", shared.ErrNotFound)

// Store persists drafts as JSON documents keyed by kind and id.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore builds a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, prefix: "drafts", ttl: ttl}
}

func (s *Store) key(kind, id string) string {
	return s.prefix + ":" + kind + ":" + id
}

// Load decodes the draft into dest.
func (s *Store) Load(ctx context.Context, kind, id string, dest any) error {
	raw, err := s.client.Get(ctx, s.key(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return shared.Transient(fmt.Errorf("drafts: load %s/%s: %w", kind, id, err))
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("drafts: decode %s/%s: %w", kind, id, err)
	}
	return nil
}

// Save writes the draft and refreshes its expiry.
func (s *Store) Save(ctx context.Context, kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("drafts: encode %s/%s: %w", kind, id, err)
	}
	if err := s.client.Set(ctx, s.key(kind, id), raw, s.ttl).Err(); err != nil {
		return shared.Transient(fmt.Errorf("drafts: save %s/%s: %w", kind, id, err))
	}
	return nil
}

// Delete removes the draft. Deleting a missing draft is not an error.
func (s *Store) Delete(ctx context.Context, kind, id string) error {
	if err := s.client.Del(ctx, s.key(kind, id)).Err(); err != nil {
		return shared.Transient(fmt.Errorf("drafts: delete %s/%s: %w", kind, id, err))
	}
	return nil
}

// List returns the ids of every live draft of kind.
func (s *Store) List(ctx context.Context, kind string) ([]string, error) {
	pattern := s.key(kind, "*")
	trim := len(s.key(kind, ""))
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, shared.Transient(fmt.Errorf("drafts: list %s: %w", kind, err))
		}
		for _, k := range keys {
			ids = append(ids, k[trim:])
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}
