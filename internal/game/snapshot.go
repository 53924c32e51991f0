// internal/game/snapshot.go
package game

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	engine "github.com/Leftyshields/better-white-elephant-sub000/engine"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/cache"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/models"
)

// snapshotPlayer is a party member without the live connection handle.
type snapshotPlayer struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	IsBot bool      `json:"isBot"`
}

// partySnapshot is the full serializable state of a party game. Everything
// needed to resume play in a fresh process is here; connection state and
// armed timers are deliberately not.
type partySnapshot struct {
	PartyID uuid.UUID  `json:"partyId"`
	Rules   PartyRules `json:"rules"`

	Players []snapshotPlayer `json:"players"`
	Gifts   []models.Gift    `json:"gifts"`

	Engine  engine.GameState `json:"engine"`
	History []engine.Event   `json:"history"`

	TurnID      int  `json:"turnId"`
	ActionIndex int  `json:"actionIndex"`
	Started     bool `json:"started"`
	GameOver    bool `json:"gameOver"`

	FinalOwnership map[uuid.UUID]uuid.UUID `json:"finalOwnership,omitempty"`
}

// snapshot captures the current state. Assumes lock is held.
func (pg *PartyGame) snapshot() partySnapshot {
	snap := partySnapshot{
		PartyID:     pg.ID,
		Rules:       pg.Rules,
		Gifts:       append([]models.Gift(nil), pg.Gifts...),
		Engine:      pg.Engine,
		History:     append([]engine.Event(nil), pg.History...),
		TurnID:      pg.TurnID,
		ActionIndex: pg.actionIndex,
		Started:     pg.Started,
		GameOver:    pg.GameOver,
	}
	for _, p := range pg.Players {
		snap.Players = append(snap.Players, snapshotPlayer{ID: p.ID, Name: p.Name, IsBot: p.IsBot})
	}
	if len(pg.FinalOwnership) > 0 {
		snap.FinalOwnership = make(map[uuid.UUID]uuid.UUID, len(pg.FinalOwnership))
		for g, p := range pg.FinalOwnership {
			snap.FinalOwnership[g] = p
		}
	}
	return snap
}

// restoreSnapshot replaces the game's state with a decoded snapshot,
// rebuilding the identity maps. Connection handles on existing players are
// preserved where IDs match. Assumes lock is held.
func (pg *PartyGame) restoreSnapshot(snap partySnapshot) {
	conns := make(map[uuid.UUID]*models.Player, len(pg.Players))
	for _, p := range pg.Players {
		conns[p.ID] = p
	}

	pg.ID = snap.PartyID
	pg.Rules = snap.Rules
	pg.Gifts = append([]models.Gift(nil), snap.Gifts...)
	pg.Engine = snap.Engine
	pg.History = append([]engine.Event(nil), snap.History...)
	pg.TurnID = snap.TurnID
	pg.actionIndex = snap.ActionIndex
	pg.Started = snap.Started
	pg.GameOver = snap.GameOver
	pg.FinalOwnership = snap.FinalOwnership

	pg.Players = pg.Players[:0]
	pg.PlayerToEngine = make(map[uuid.UUID]uint8, len(snap.Players))
	pg.EngineToPlayer = [engine.MaxPlayers]uuid.UUID{}
	for i, sp := range snap.Players {
		p := conns[sp.ID]
		if p == nil {
			p = &models.Player{ID: sp.ID, Name: sp.Name, IsBot: sp.IsBot}
		}
		pg.Players = append(pg.Players, p)
		pg.PlayerToEngine[sp.ID] = uint8(i)
		pg.EngineToPlayer[i] = sp.ID
	}

	pg.GiftToEngine = make(map[uuid.UUID]uint8, len(snap.Gifts))
	pg.EngineToGift = [engine.MaxGifts]uuid.UUID{}
	for i, gf := range snap.Gifts {
		pg.GiftToEngine[gf.ID] = uint8(i)
		pg.EngineToGift[i] = gf.ID
	}
}

// persistState saves the current snapshot to the cache with an optimistic
// version check. On a version conflict the newer stored state wins: it is
// loaded back and one save of the merged view is attempted. Cache failures
// are logged and swallowed, the in-memory state plays on. Assumes lock is
// held.
func (pg *PartyGame) persistState() {
	if cache.Rdb == nil {
		return
	}

	raw, err := json.Marshal(pg.snapshot())
	if err != nil {
		pg.log.WithError(err).Error("failed encoding game snapshot")
		return
	}

	ctx, cancel := cache.WithTimeout(context.Background())
	defer cancel()

	version, err := cache.SaveGameState(ctx, pg.ID, pg.Version, raw)
	if err == nil {
		pg.Version = version
		return
	}
	if err != cache.ErrVersionConflict {
		pg.log.WithError(err).Warn("failed saving game snapshot")
		return
	}

	// Someone else saved a newer version. Adopt it, replay our view on top
	// only if ours is strictly ahead in applied transitions.
	stored, loadErr := cache.LoadGameState(ctx, pg.ID)
	if loadErr != nil {
		pg.log.WithError(loadErr).Warn("snapshot version conflict, reload failed")
		return
	}

	var theirs partySnapshot
	if decodeErr := json.Unmarshal(stored.Payload, &theirs); decodeErr != nil {
		pg.log.WithError(decodeErr).Warn("snapshot version conflict, stored state undecodable")
		return
	}

	if theirs.TurnID >= pg.TurnID {
		pg.restoreSnapshot(theirs)
		pg.Version = stored.Version
		pg.log.WithField("version", stored.Version).Info("adopted newer cached state after version conflict")
		return
	}

	version, err = cache.SaveGameState(ctx, pg.ID, stored.Version, raw)
	if err != nil {
		pg.log.WithError(err).Warn("failed saving game snapshot after conflict retry")
		return
	}
	pg.Version = version
}
