// Package cache provides the Redis-backed keyed store for live game state
// and the append-only action history queue consumed by the historian.
//
// The core treats this as an opaque key-value collaborator: load the full
// serialized state, apply one transition, save it back. Saves use a
// version-stamped compare-and-swap so a human action and a scheduled bot move
// racing on the same party cannot silently overwrite each other.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rdb is the shared Redis client, nil until InitRedis succeeds. Callers must
// tolerate a nil client: the in-memory copy of a running game stays
// authoritative when the cache is unavailable.
var Rdb *redis.Client

var (
	ErrNotFound        = errors.New("cache: state not found")
	ErrVersionConflict = errors.New("cache: version conflict on save")
	ErrUnavailable     = errors.New("cache: redis client not initialized")
)

// InitRedis connects the shared client. The password, if any, comes from
// REDIS_PASSWORD.
func InitRedis(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping %s: %w", addr, err)
	}
	Rdb = client
	logrus.Infof("cache: connected to redis at %s", addr)
	return nil
}

func stateKey(partyID uuid.UUID) string   { return "party_state:" + partyID.String() }
func actionsKey(partyID uuid.UUID) string { return "party_actions:" + partyID.String() }

// StoredState is the versioned envelope persisted per party.
type StoredState struct {
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// LoadGameState fetches the current serialized state for a party.
func LoadGameState(ctx context.Context, partyID uuid.UUID) (StoredState, error) {
	if Rdb == nil {
		return StoredState{}, ErrUnavailable
	}
	raw, err := Rdb.Get(ctx, stateKey(partyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StoredState{}, ErrNotFound
	}
	if err != nil {
		return StoredState{}, fmt.Errorf("cache: load %s: %w", partyID, err)
	}
	var st StoredState
	if err := json.Unmarshal(raw, &st); err != nil {
		return StoredState{}, fmt.Errorf("cache: decode %s: %w", partyID, err)
	}
	return st, nil
}

// SaveGameState persists payload with an optimistic compare-and-swap: the
// write succeeds only if the stored version still equals prevVersion (or no
// state exists yet and prevVersion is 0). Returns the new version.
func SaveGameState(ctx context.Context, partyID uuid.UUID, prevVersion int64, payload []byte) (int64, error) {
	if Rdb == nil {
		return 0, ErrUnavailable
	}
	key := stateKey(partyID)
	newVersion := prevVersion + 1

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prevVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			var cur StoredState
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.Version != prevVersion {
				return ErrVersionConflict
			}
		}

		out, err := json.Marshal(StoredState{Version: newVersion, Payload: payload})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	if err := Rdb.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return 0, ErrVersionConflict
		}
		return 0, err
	}
	return newVersion, nil
}

// DeleteGameState removes the state and action queue for a finished party.
func DeleteGameState(ctx context.Context, partyID uuid.UUID) error {
	if Rdb == nil {
		return ErrUnavailable
	}
	return Rdb.Del(ctx, stateKey(partyID), actionsKey(partyID)).Err()
}

// GameActionRecord is one entry in the per-party action history queue.
type GameActionRecord struct {
	PartyID       uuid.UUID              `json:"partyId"`
	ActionIndex   int                    `json:"actionIndex"`
	ActorID       uuid.UUID              `json:"actorId"` // Nil for game-level events
	ActionType    string                 `json:"actionType"`
	ActionPayload map[string]interface{} `json:"payload,omitempty"`
	Timestamp     int64                  `json:"timestamp"` // unix millis
}

// PublishGameAction appends an action record to the party's history queue.
func PublishGameAction(ctx context.Context, rec GameActionRecord) error {
	if Rdb == nil {
		return ErrUnavailable
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encode action: %w", err)
	}
	if err := Rdb.RPush(ctx, actionsKey(rec.PartyID), raw).Err(); err != nil {
		return fmt.Errorf("cache: publish action %d for %s: %w", rec.ActionIndex, rec.PartyID, err)
	}
	return nil
}

// FetchGameActions returns the full recorded action queue for a party.
func FetchGameActions(ctx context.Context, partyID uuid.UUID) ([]GameActionRecord, error) {
	if Rdb == nil {
		return nil, ErrUnavailable
	}
	raws, err := Rdb.LRange(ctx, actionsKey(partyID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: fetch actions for %s: %w", partyID, err)
	}
	records := make([]GameActionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec GameActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("cache: decode action for %s: %w", partyID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// WithTimeout wraps ctx with the standard short deadline used for cache calls.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*time.Second)
}
