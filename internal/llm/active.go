package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ActiveModelKey is the redis key the selection is persisted under
const ActiveModelKey = "docagent:active_model"

// ModelSnapshot is an immutable view of the selected generation model.
// Version increases by one on every change.
type ModelSnapshot struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
}

// ActiveModel holds the process-wide model selection. Readers take one
// snapshot per turn so a concurrent change never splits a turn across models.
type ActiveModel struct {
	current atomic.Pointer[ModelSnapshot]
	redis   *redis.Client
}

// NewActiveModel seeds the selection with the configured model
func NewActiveModel(initial string) *ActiveModel {
	a := &ActiveModel{}
	a.current.Store(&ModelSnapshot{ID: initial, ChangedAt: time.Now().UTC()})
	return a
}

// WithRedis persists every change to redis
func (a *ActiveModel) WithRedis(client *redis.Client) *ActiveModel {
	a.redis = client
	return a
}

// Snapshot returns the current selection
func (a *ActiveModel) Snapshot() ModelSnapshot {
	return *a.current.Load()
}

// Set switches the active model and returns the new snapshot
func (a *ActiveModel) Set(ctx context.Context, id string) ModelSnapshot {
	var next *ModelSnapshot
	for {
		prev := a.current.Load()
		next = &ModelSnapshot{ID: id, Version: prev.Version + 1, ChangedAt: time.Now().UTC()}
		if a.current.CompareAndSwap(prev, next) {
			break
		}
	}

	log.Info().
		Str("model", next.ID).
		Uint64("version", next.Version).
		Msg("Active model changed")

	if a.redis != nil {
		if data, err := json.Marshal(next); err == nil {
			if err := a.redis.Set(ctx, ActiveModelKey, data, 0).Err(); err != nil {
				log.Warn().Err(err).Msg("Failed to persist active model")
			}
		}
	}

	return *next
}

// Restore loads a previously persisted selection, if any
func (a *ActiveModel) Restore(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}

	data, err := a.redis.Get(ctx, ActiveModelKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap ModelSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.ID == "" {
		return nil
	}

	a.current.Store(&snap)
	log.Info().Str("model", snap.ID).Uint64("version", snap.Version).Msg("Active model restored")
	return nil
}
