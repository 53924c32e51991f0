// internal/game/bot.go
package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	engine "github.com/Leftyshields/better-white-elephant-sub000/engine"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/cache"
)

// maxBotRetries caps how often a bot may re-decide after a rejection before
// its turn is forcibly closed.
const maxBotRetries = 3

// scheduleBotTurn arms a delayed move if the acting player is a bot. The
// delay keeps the pace human-watchable; the captured TurnID lets the
// callback detect that the game has moved on and abort silently.
// Assumes lock is held.
func (pg *PartyGame) scheduleBotTurn() {
	if !pg.Started || pg.GameOver || pg.Engine.IsGameOver() {
		return
	}

	actingID := pg.EngineToPlayer[pg.Engine.ActingPlayer()]
	actor := pg.getPlayerByID(actingID)
	if actor == nil || !actor.IsBot {
		return
	}

	pg.stopBotTimer()
	turnToken := pg.TurnID
	pg.botTimer = time.AfterFunc(pg.BotDelay, func() {
		pg.runBotTurn(actingID, turnToken)
	})
}

// stopBotTimer cancels any armed bot timer. Assumes lock is held.
func (pg *PartyGame) stopBotTimer() {
	if pg.botTimer != nil {
		pg.botTimer.Stop()
		pg.botTimer = nil
	}
}

// runBotTurn fires when a bot's delay expires. It re-validates freshness
// under the lock, refreshes the saved snapshot if a newer one exists, asks
// the agent for a decision, and applies it through the same entry path as a
// human command.
func (pg *PartyGame) runBotTurn(botID uuid.UUID, turnToken int) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	// The state may have advanced between scheduling and firing. A stale
	// token means another transition already happened; drop the move.
	if turnToken != pg.TurnID {
		return
	}
	if !pg.Started || pg.GameOver || pg.Engine.IsGameOver() {
		return
	}
	if pg.EngineToPlayer[pg.Engine.ActingPlayer()] != botID {
		return
	}

	pg.refreshFromCache()

	// Re-check after the refresh: a restored snapshot may carry a newer
	// turn or a different acting player.
	if turnToken != pg.TurnID || pg.GameOver || pg.Engine.IsGameOver() {
		return
	}
	if pg.EngineToPlayer[pg.Engine.ActingPlayer()] != botID {
		return
	}

	decision := pg.bot.Decide(&pg.Engine)
	if decision.Forced {
		// The agent found no legal move at all and fell back to a skip.
		// This should be unreachable in a well-formed game; count and log
		// it so a wedged party is visible to operators.
		pg.forcedSkips++
		pg.log.WithFields(logrus.Fields{
			"bot":         botID,
			"reason":      decision.Reason,
			"forcedSkips": pg.forcedSkips,
		}).Warn("bot had no legal move, skipping its activation")
	}
	pg.applyBotDecision(botID, decision.Action, decision.Reason)

	// A pick or steal leaves the turn open; close it unless the engine now
	// expects a different actor (victim priority) or the game ended.
	if decision.Action != engine.ActionEndTurn &&
		!pg.GameOver && !pg.Engine.IsGameOver() &&
		pg.EngineToPlayer[pg.Engine.ActingPlayer()] == botID {
		pg.applyBotDecision(botID, engine.ActionEndTurn, "close turn")
	}
}

// applyBotDecision applies one agent action, retrying once with a fresh
// decision on rejection. Repeated rejections past the retry cap force the
// turn closed so a defective decision can never wedge the game.
// Assumes lock is held.
func (pg *PartyGame) applyBotDecision(botID uuid.UUID, actionIdx uint16, reason string) {
	before := pg.TurnID
	action, giftID := pg.describeAction(actionIdx)
	pg.applyAction(botID, actionIdx, action, giftID)
	if pg.TurnID != before {
		return
	}

	// Rejected. Decide again from the current state; the agent only emits
	// legal moves, so a second rejection indicates a real defect.
	pg.botRetries++
	pg.log.WithFields(logrus.Fields{
		"bot":     botID,
		"action":  action,
		"reason":  reason,
		"retries": pg.botRetries,
	}).Warn("bot action rejected")

	if pg.botRetries > maxBotRetries {
		pg.log.WithField("bot", botID).Error("bot retry cap hit, forcing end of turn")
		pg.applyAction(botID, engine.ActionEndTurn, "end_turn", nil)
		return
	}

	retry := pg.bot.Decide(&pg.Engine)
	if retry.Action == actionIdx {
		// Same move would fail again; skip instead.
		retry.Action = engine.ActionEndTurn
	}
	action, giftID = pg.describeAction(retry.Action)
	pg.applyAction(botID, retry.Action, action, giftID)
}

// describeAction translates an engine action index into the wire action name
// and the durable gift ID it touches.
func (pg *PartyGame) describeAction(actionIdx uint16) (string, *uuid.UUID) {
	if giftIdx, ok := engine.ActionIsPick(actionIdx); ok {
		id := pg.EngineToGift[giftIdx]
		return "pick", &id
	}
	if giftIdx, ok := engine.ActionIsSteal(actionIdx); ok {
		id := pg.EngineToGift[giftIdx]
		return "steal", &id
	}
	return "end_turn", nil
}

// refreshFromCache reloads the party snapshot if the cache holds a newer
// version than the in-memory state. Normally a no-op; it matters when
// another process has advanced the same party. Load failures are ignored,
// the in-memory state stays authoritative. Assumes lock is held.
func (pg *PartyGame) refreshFromCache() {
	if cache.Rdb == nil {
		return
	}
	ctx, cancel := cache.WithTimeout(context.Background())
	defer cancel()

	stored, err := cache.LoadGameState(ctx, pg.ID)
	if err != nil {
		if err != cache.ErrNotFound {
			pg.log.WithError(err).Debug("cache refresh failed")
		}
		return
	}
	if stored.Version <= pg.Version {
		return
	}

	var snap partySnapshot
	if err := json.Unmarshal(stored.Payload, &snap); err != nil {
		pg.log.WithError(err).Warn("cache snapshot undecodable, keeping in-memory state")
		return
	}
	pg.restoreSnapshot(snap)
	pg.Version = stored.Version
	pg.log.WithField("version", stored.Version).Info("refreshed state from cache")
}
