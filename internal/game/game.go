// internal/game/game.go
package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	engine "github.com/Leftyshields/better-white-elephant-sub000/engine"
	"github.com/Leftyshields/better-white-elephant-sub000/engine/agent"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/cache"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/database"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/models"
)

// OnGameEndFunc is executed once when the game finishes, after
// reconciliation. FinalOwnership maps gift ID to owning player ID.
type OnGameEndFunc func(partyID uuid.UUID, finalOwnership map[uuid.UUID]uuid.UUID)

// PartyRules is the host-facing rule set for a party. It maps onto the
// engine rules at Start.
type PartyRules struct {
	MaxSteals               int  `json:"maxSteals"`
	ReturnToStart           bool `json:"returnToStart"`
	AllowImmediateStealback bool `json:"allowImmediateStealback"`
}

// DefaultPartyRules returns the standard three-steals-and-frozen setup.
func DefaultPartyRules() PartyRules {
	return PartyRules{MaxSteals: int(engine.DefaultRules().MaxSteals)}
}

// PartyGame orchestrates a single white elephant game: it owns the
// authoritative engine state, the durable UUID identities layered on top of
// the engine's indices, the append-only event history, and the timers that
// drive bot players. All access goes through Mu.
type PartyGame struct {
	ID uuid.UUID

	Rules PartyRules

	Players []*models.Player // turn order after Start
	Gifts   []models.Gift    // indexed by engine gift index after Start

	// Engine integration. The engine is the single authority on game
	// semantics; everything here is identity mapping and plumbing.
	Engine         engine.GameState
	History        []engine.Event
	PlayerToEngine map[uuid.UUID]uint8
	EngineToPlayer [engine.MaxPlayers]uuid.UUID
	GiftToEngine   map[uuid.UUID]uint8
	EngineToGift   [engine.MaxGifts]uuid.UUID

	// TurnID increments on every applied transition. Delayed bot callbacks
	// capture it when scheduled and abort if it has moved on.
	TurnID int

	// Version is the cache CAS stamp of the last saved snapshot.
	Version int64

	Started  bool
	GameOver bool

	// FinalOwnership is populated by finishGame from the reconciler.
	FinalOwnership map[uuid.UUID]uuid.UUID
	Repair         engine.RepairKind

	Mu sync.Mutex

	BroadcastFn         func(ev GameEvent)
	BroadcastToPlayerFn func(playerID uuid.UUID, ev GameEvent)
	OnGameEnd           OnGameEndFunc

	BotDelay time.Duration

	botTimer    *time.Timer
	botRetries  int
	forcedSkips int
	bot         *agent.Agent

	actionIndex int
	log         *logrus.Entry
}

// NewPartyGame creates an empty party with default rules. Players and gifts
// are added before Start.
func NewPartyGame() *PartyGame {
	id, _ := uuid.NewRandom()
	return &PartyGame{
		ID:             id,
		Rules:          DefaultPartyRules(),
		PlayerToEngine: make(map[uuid.UUID]uint8),
		GiftToEngine:   make(map[uuid.UUID]uint8),
		BotDelay:       3 * time.Second,
		bot:            agent.New(uint64(time.Now().UnixNano())),
		log:            logrus.WithField("party", id),
	}
}

// AddPlayer registers a party member, or marks an existing member as
// reconnected. New members are only accepted before Start.
func (pg *PartyGame) AddPlayer(p *models.Player) error {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	for _, existing := range pg.Players {
		if existing.ID == p.ID {
			existing.Conn = p.Conn
			existing.Connected = true
			pg.log.WithField("player", p.ID).Info("player reconnected")
			return nil
		}
	}
	if pg.Started {
		return errors.New("game already in progress")
	}
	if len(pg.Players) >= int(engine.MaxPlayers) {
		return errors.New("party is full")
	}
	pg.Players = append(pg.Players, p)
	pg.log.WithFields(logrus.Fields{"player": p.ID, "bot": p.IsBot}).Info("player added")
	return nil
}

// AddBot registers a bot player.
func (pg *PartyGame) AddBot(name string) (uuid.UUID, error) {
	id, _ := uuid.NewRandom()
	err := pg.AddPlayer(&models.Player{ID: id, Name: name, IsBot: true})
	return id, err
}

// AddGift registers a gift before Start.
func (pg *PartyGame) AddGift(label string) (uuid.UUID, error) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	if pg.Started {
		return uuid.Nil, errors.New("game already in progress")
	}
	if len(pg.Gifts) >= int(engine.MaxGifts) {
		return uuid.Nil, errors.New("gift pool is full")
	}
	id, _ := uuid.NewRandom()
	pg.Gifts = append(pg.Gifts, models.Gift{ID: id, Label: label})
	return id, nil
}

// Start shuffles the turn order, initializes the engine, persists the
// opening snapshot, and broadcasts game-started. The first acting player's
// bot timer is scheduled if needed.
func (pg *PartyGame) Start() error {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	if pg.Started || pg.GameOver {
		return errors.New("game already started")
	}
	if len(pg.Gifts) < len(pg.Players) {
		return errors.New("need at least one gift per player")
	}
	// Steal counts live in a byte; a larger value would wrap on conversion.
	if pg.Rules.MaxSteals < 1 || pg.Rules.MaxSteals > 255 {
		return errors.New("maxSteals must be between 1 and 255")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rng.Shuffle(len(pg.Players), func(i, j int) {
		pg.Players[i], pg.Players[j] = pg.Players[j], pg.Players[i]
	})
	rng.Shuffle(len(pg.Gifts), func(i, j int) {
		pg.Gifts[i], pg.Gifts[j] = pg.Gifts[j], pg.Gifts[i]
	})

	rules := engine.Rules{
		MaxSteals:               uint8(pg.Rules.MaxSteals),
		Boomerang:               pg.Rules.ReturnToStart,
		AllowImmediateStealback: pg.Rules.AllowImmediateStealback,
	}
	g, err := engine.NewGame(uint8(len(pg.Players)), uint8(len(pg.Gifts)), rules)
	if err != nil {
		return err
	}
	pg.Engine = g

	for i, p := range pg.Players {
		pg.PlayerToEngine[p.ID] = uint8(i)
		pg.EngineToPlayer[i] = p.ID
	}
	for i, gf := range pg.Gifts {
		pg.GiftToEngine[gf.ID] = uint8(i)
		pg.EngineToGift[i] = gf.ID
	}

	pg.Started = true
	pg.TurnID++
	pg.log.WithFields(logrus.Fields{
		"players": len(pg.Players),
		"gifts":   len(pg.Gifts),
		"rules":   pg.Rules,
	}).Info("game started")

	pg.logAction(uuid.Nil, "game_start", map[string]interface{}{
		"players": len(pg.Players),
		"gifts":   len(pg.Gifts),
	})
	pg.persistState()

	state := pg.StateView()
	pg.fireEvent(GameEvent{Type: EventGameStarted, State: &state})

	pg.scheduleBotTurn()
	return nil
}

// HandlePlayerAction routes a raw client command to the matching entry
// point. Unknown action types get a typed rejection.
func (pg *PartyGame) HandlePlayerAction(playerID uuid.UUID, action models.GameAction) {
	switch action.ActionType {
	case "pick":
		giftID, ok := payloadGiftID(action.Payload)
		if !ok {
			pg.rejectAsync(playerID, action.ActionType, "unknown_gift")
			return
		}
		pg.HandlePick(playerID, giftID)
	case "steal":
		giftID, ok := payloadGiftID(action.Payload)
		if !ok {
			pg.rejectAsync(playerID, action.ActionType, "unknown_gift")
			return
		}
		pg.HandleSteal(playerID, giftID)
	case "end_turn":
		pg.HandleEndTurn(playerID)
	default:
		pg.rejectAsync(playerID, action.ActionType, "unknown_action")
	}
}

func payloadGiftID(payload map[string]interface{}) (uuid.UUID, bool) {
	raw, ok := payload["giftId"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// rejectAsync acquires the lock and sends a rejection. Used for commands
// that fail before reaching an entry point.
func (pg *PartyGame) rejectAsync(playerID uuid.UUID, action, reason string) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()
	pg.reject(playerID, action, reason)
}

// HandlePick applies a pick of the gift with the given durable ID on behalf
// of playerID.
func (pg *PartyGame) HandlePick(playerID, giftID uuid.UUID) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	giftIdx, ok := pg.checkCommand(playerID, giftID, "pick")
	if !ok {
		return
	}
	pg.applyAction(playerID, engine.EncodePick(giftIdx), "pick", &giftID)
}

// HandleSteal applies a steal of the gift with the given durable ID on
// behalf of playerID.
func (pg *PartyGame) HandleSteal(playerID, giftID uuid.UUID) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	giftIdx, ok := pg.checkCommand(playerID, giftID, "steal")
	if !ok {
		return
	}
	pg.applyAction(playerID, engine.EncodeSteal(giftIdx), "steal", &giftID)
}

// HandleEndTurn closes playerID's turn.
func (pg *PartyGame) HandleEndTurn(playerID uuid.UUID) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	if _, ok := pg.checkCommand(playerID, uuid.Nil, "end_turn"); !ok {
		return
	}
	pg.applyAction(playerID, engine.ActionEndTurn, "end_turn", nil)
}

// checkCommand runs the service-level preconditions shared by all entry
// points: game phase, player identity, turn ownership, and gift resolution.
// Engine-level legality is left to Apply. Assumes lock is held.
func (pg *PartyGame) checkCommand(playerID, giftID uuid.UUID, action string) (uint8, bool) {
	if !pg.Started {
		pg.reject(playerID, action, "not_started")
		return 0, false
	}
	if pg.GameOver || pg.Engine.IsGameOver() {
		pg.reject(playerID, action, "game_over")
		return 0, false
	}
	engineIdx, known := pg.PlayerToEngine[playerID]
	if !known {
		pg.reject(playerID, action, "unknown_player")
		return 0, false
	}
	if pg.Engine.ActingPlayer() != engineIdx {
		pg.reject(playerID, action, "not_your_turn")
		return 0, false
	}
	if giftID == uuid.Nil {
		return 0, true
	}
	giftIdx, found := pg.GiftToEngine[giftID]
	if !found {
		pg.reject(playerID, action, "unknown_gift")
		return 0, false
	}
	return giftIdx, true
}

// applyAction drives one transition end to end: pre-announce, engine apply,
// history append, action log, snapshot save, and the post-transition
// broadcast or game finish. Assumes lock is held.
func (pg *PartyGame) applyAction(playerID uuid.UUID, actionIdx uint16, action string, giftID *uuid.UUID) {
	// Announce before applying so clients can run reveal choreography.
	startEv := GameEvent{
		Type:   EventActionStarted,
		Actor:  &EventUser{ID: playerID},
		Action: action,
	}
	if giftID != nil {
		startEv.Gift = &EventGift{ID: *giftID}
	}
	pg.fireEvent(startEv)

	ev, err := pg.Engine.Apply(actionIdx)

	var ownership *engine.OwnershipError
	if err != nil && !errors.As(err, &ownership) {
		pg.reject(playerID, action, rejectionReason(err))
		return
	}
	if ownership != nil {
		// The transition landed but left the gift map inconsistent. Keep
		// the event, log the anomaly, and repair from history at game end.
		pg.log.WithError(ownership).Error("ownership invariant violated after steal")
	}

	ev.Timestamp = time.Now().UnixMilli()
	pg.History = append(pg.History, ev)
	pg.TurnID++
	pg.botRetries = 0

	payload := map[string]interface{}{"turnId": pg.TurnID}
	if giftID != nil {
		payload["giftId"] = giftID.String()
	}
	pg.logAction(playerID, action, payload)
	pg.persistState()

	if pg.Engine.IsGameOver() {
		pg.finishGame()
		return
	}

	state := pg.StateView()
	updateEv := GameEvent{
		Type:  EventGameUpdated,
		Actor: &EventUser{ID: playerID},
		State: &state,
	}
	if giftID != nil {
		gift := pg.Gifts[pg.GiftToEngine[*giftID]]
		updateEv.Gift = &EventGift{ID: gift.ID, Label: gift.Label}
	}
	pg.fireEvent(updateEv)

	pg.scheduleBotTurn()
}

// rejectionReason maps an engine rejection to its wire reason code.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrGameOver):
		return "game_over"
	case errors.Is(err, engine.ErrAlreadyActed):
		return "already_acted"
	case errors.Is(err, engine.ErrGiftNotFound):
		return "unknown_gift"
	case errors.Is(err, engine.ErrGiftNotWrapped):
		return "gift_already_claimed"
	case errors.Is(err, engine.ErrGiftWrapped):
		return "gift_still_wrapped"
	case errors.Is(err, engine.ErrGiftFrozen):
		return "gift_frozen"
	case errors.Is(err, engine.ErrSelfSteal):
		return "own_gift"
	case errors.Is(err, engine.ErrStealBack):
		return "steal_back_blocked"
	case errors.Is(err, engine.ErrHolderCannot):
		return "holder_cannot_act"
	case errors.Is(err, engine.ErrFrozenHolder):
		return "frozen_gift_held"
	}
	return "rejected"
}

// reject sends a private typed rejection to the requester.
// Assumes lock is held.
func (pg *PartyGame) reject(playerID uuid.UUID, action, reason string) {
	pg.log.WithFields(logrus.Fields{
		"player": playerID,
		"action": action,
		"reason": reason,
	}).Debug("action rejected")
	pg.fireEventToPlayer(playerID, GameEvent{
		Type:    EventActionRejected,
		Action:  action,
		Payload: map[string]interface{}{"reason": reason},
	})
}

// finishGame reconciles final ownership, broadcasts game-ended, archives the
// result, and releases the cache entry. Assumes lock is held.
func (pg *PartyGame) finishGame() {
	if pg.GameOver {
		return
	}
	pg.GameOver = true
	pg.stopBotTimer()

	final, repair := engine.Reconcile(&pg.Engine, pg.History)
	pg.Repair = repair
	if repair != engine.RepairNone {
		pg.log.WithField("repair", repair.String()).Warn("final ownership required repair")
	}

	pg.FinalOwnership = make(map[uuid.UUID]uuid.UUID, pg.Engine.NumGifts)
	for i := uint8(0); i < pg.Engine.NumGifts; i++ {
		owner := final[i]
		if owner < 0 {
			continue
		}
		pg.FinalOwnership[pg.EngineToGift[i]] = pg.EngineToPlayer[uint8(owner)]
	}

	pg.logAction(uuid.Nil, "game_end", map[string]interface{}{
		"repair": repair.String(),
		"turns":  pg.TurnID,
	})

	state := pg.StateView()
	pg.fireEvent(GameEvent{
		Type:    EventGameEnded,
		State:   &state,
		Payload: map[string]interface{}{"repair": repair.String()},
	})

	pg.archiveFinalState()

	if pg.OnGameEnd != nil {
		owned := make(map[uuid.UUID]uuid.UUID, len(pg.FinalOwnership))
		for g, p := range pg.FinalOwnership {
			owned[g] = p
		}
		pg.OnGameEnd(pg.ID, owned)
	}

	pg.log.WithField("repair", repair.String()).Info("game ended")
}

// archiveFinalState persists the finished game to long-term storage and
// drops the hot cache entry. Storage failures are logged, never fatal.
// Assumes lock is held.
func (pg *PartyGame) archiveFinalState() {
	snap := pg.snapshot()
	partyID := pg.ID
	logEntry := pg.log

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if database.DB != nil {
			if err := database.StoreFinalGameState(ctx, partyID, snap); err != nil {
				logEntry.WithError(err).Error("failed archiving final game state")
			}
		}
		if cache.Rdb != nil {
			// Move the action queue into long-term storage before the
			// cache entry is released.
			if database.DB != nil {
				records, err := cache.FetchGameActions(ctx, partyID)
				if err != nil {
					logEntry.WithError(err).Warn("failed fetching action log for archive")
				}
				for _, rec := range records {
					if err := database.StoreActionLog(ctx, partyID, rec.ActionIndex, rec); err != nil {
						logEntry.WithError(err).WithField("actionIndex", rec.ActionIndex).Warn("failed archiving action record")
						break
					}
				}
			}
			if err := cache.DeleteGameState(ctx, partyID); err != nil {
				logEntry.WithError(err).Warn("failed releasing cached game state")
			}
		}
	}()
}

// HandleDisconnect marks a human player as disconnected. The game continues;
// turn advancement for absent players is the host's call, not automatic.
func (pg *PartyGame) HandleDisconnect(playerID uuid.UUID) {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()

	for _, p := range pg.Players {
		if p.ID == playerID {
			p.Connected = false
			p.Conn = nil
			pg.log.WithField("player", playerID).Info("player disconnected")
			pg.logAction(playerID, "player_disconnect", nil)
			return
		}
	}
}

// fireEvent broadcasts to all party members. Assumes lock is held.
func (pg *PartyGame) fireEvent(ev GameEvent) {
	if pg.BroadcastFn == nil {
		return
	}
	pg.BroadcastFn(ev)
}

// fireEventToPlayer sends to a single member. Assumes lock is held.
func (pg *PartyGame) fireEventToPlayer(playerID uuid.UUID, ev GameEvent) {
	if pg.BroadcastToPlayerFn == nil {
		return
	}
	pg.BroadcastToPlayerFn(playerID, ev)
}

// logAction appends an action record to the party's history queue in the
// cache, asynchronously. Assumes lock is held.
func (pg *PartyGame) logAction(actorID uuid.UUID, actionType string, payload map[string]interface{}) {
	pg.actionIndex++
	rec := cache.GameActionRecord{
		PartyID:       pg.ID,
		ActionIndex:   pg.actionIndex,
		ActorID:       actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}
	logEntry := pg.log

	go func() {
		if cache.Rdb == nil {
			return
		}
		ctx, cancel := cache.WithTimeout(context.Background())
		defer cancel()
		if err := cache.PublishGameAction(ctx, rec); err != nil {
			logEntry.WithError(err).WithField("actionIndex", rec.ActionIndex).Error("failed publishing action record")
		}
	}()
}

// getPlayerByID finds a member by ID. Assumes lock is held.
func (pg *PartyGame) getPlayerByID(playerID uuid.UUID) *models.Player {
	for _, p := range pg.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}
