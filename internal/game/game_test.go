// internal/game/game_test.go
package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/Leftyshields/better-white-elephant-sub000/engine"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/models"
)

// mockBroadcaster captures game events for testing assertions.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []GameEvent
	playerEvents map[uuid.UUID][]GameEvent
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{playerEvents: make(map[uuid.UUID][]GameEvent)}
}

func (mb *mockBroadcaster) broadcastFn(ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], ev)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = nil
	mb.playerEvents = make(map[uuid.UUID][]GameEvent)
}

func (mb *mockBroadcaster) findEventByType(eventType GameEventType) *GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i := len(mb.allEvents) - 1; i >= 0; i-- {
		if mb.allEvents[i].Type == eventType {
			return &mb.allEvents[i]
		}
	}
	return nil
}

func (mb *mockBroadcaster) eventTypes() []GameEventType {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	types := make([]GameEventType, len(mb.allEvents))
	for i, ev := range mb.allEvents {
		types[i] = ev.Type
	}
	return types
}

func (mb *mockBroadcaster) lastPlayerEvent(playerID uuid.UUID) *GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events := mb.playerEvents[playerID]
	if len(events) == 0 {
		return nil
	}
	return &events[len(events)-1]
}

// setupTestParty creates a started party with numPlayers humans and
// numGifts gifts.
func setupTestParty(t *testing.T, numPlayers, numGifts int, rules PartyRules) (*PartyGame, *mockBroadcaster) {
	t.Helper()

	pg := NewPartyGame()
	pg.Rules = rules
	mb := newMockBroadcaster()
	pg.BroadcastFn = mb.broadcastFn
	pg.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	for i := 0; i < numPlayers; i++ {
		p := &models.Player{ID: uuid.New(), Name: "Player" + string(rune('A'+i)), Connected: true}
		require.NoError(t, pg.AddPlayer(p))
	}
	for i := 0; i < numGifts; i++ {
		_, err := pg.AddGift("Gift " + string(rune('1'+i)))
		require.NoError(t, err)
	}

	require.NoError(t, pg.Start())
	require.True(t, pg.Started)
	mb.clear()
	return pg, mb
}

// actingPlayerID returns who the engine expects to act next.
func actingPlayerID(pg *PartyGame) uuid.UUID {
	pg.Mu.Lock()
	defer pg.Mu.Unlock()
	return pg.EngineToPlayer[pg.Engine.ActingPlayer()]
}

// otherPlayerID returns any party member who is not `not`.
func otherPlayerID(pg *PartyGame, not uuid.UUID) uuid.UUID {
	for _, p := range pg.Players {
		if p.ID != not {
			return p.ID
		}
	}
	return uuid.Nil
}

// wrappedGiftID returns the durable ID of any still-wrapped gift.
func wrappedGiftID(t *testing.T, pg *PartyGame) uuid.UUID {
	t.Helper()
	pg.Mu.Lock()
	defer pg.Mu.Unlock()
	for i := uint8(0); i < pg.Engine.NumGifts; i++ {
		if pg.Engine.Gifts[i].Wrapped() {
			return pg.EngineToGift[i]
		}
	}
	t.Fatal("no wrapped gift left")
	return uuid.Nil
}

func TestStartBroadcastsInitialState(t *testing.T) {
	pg := NewPartyGame()
	mb := newMockBroadcaster()
	pg.BroadcastFn = mb.broadcastFn
	pg.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	for i := 0; i < 3; i++ {
		require.NoError(t, pg.AddPlayer(&models.Player{ID: uuid.New(), Name: "p", Connected: true}))
	}
	for i := 0; i < 4; i++ {
		_, err := pg.AddGift("gift")
		require.NoError(t, err)
	}
	require.NoError(t, pg.Start())

	started := mb.findEventByType(EventGameStarted)
	require.NotNil(t, started, "expected game-started event")
	require.NotNil(t, started.State)
	assert.True(t, started.State.Started)
	assert.False(t, started.State.GameOver)
	assert.Len(t, started.State.Players, 3)
	assert.Len(t, started.State.Gifts, 4)
	assert.NotEqual(t, uuid.Nil, started.State.ActingPlayer)

	for _, gv := range started.State.Gifts {
		assert.True(t, gv.Wrapped)
		assert.Empty(t, gv.Label, "wrapped gifts must not leak their label")
		assert.Nil(t, gv.Owner)
	}
}

func TestStartRejectsOversizedMaxSteals(t *testing.T) {
	pg := NewPartyGame()
	pg.Rules = PartyRules{MaxSteals: 300}
	for i := 0; i < 2; i++ {
		require.NoError(t, pg.AddPlayer(&models.Player{ID: uuid.New(), Name: "p"}))
	}
	for i := 0; i < 2; i++ {
		_, err := pg.AddGift("gift")
		require.NoError(t, err)
	}

	require.Error(t, pg.Start())
	assert.False(t, pg.Started)
}

func TestStartRequiresEnoughGifts(t *testing.T) {
	pg := NewPartyGame()
	for i := 0; i < 3; i++ {
		require.NoError(t, pg.AddPlayer(&models.Player{ID: uuid.New(), Name: "p"}))
	}
	_, err := pg.AddGift("only one")
	require.NoError(t, err)

	require.Error(t, pg.Start())
	assert.False(t, pg.Started)
}

func TestPickThenEndTurnFlow(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	gift := wrappedGiftID(t, pg)

	pg.HandlePick(actor, gift)

	types := mb.eventTypes()
	require.Equal(t, []GameEventType{EventActionStarted, EventGameUpdated}, types)

	updated := mb.findEventByType(EventGameUpdated)
	require.NotNil(t, updated.State)
	assert.Equal(t, actor, updated.State.ActingPlayer, "pick must not advance the turn")
	require.NotNil(t, updated.Gift)
	assert.Equal(t, gift, updated.Gift.ID)
	assert.NotEmpty(t, updated.Gift.Label, "claimed gift reveals its label")

	gs, ok := pg.engineGift(gift)
	require.True(t, ok)
	assert.False(t, gs.Wrapped())

	mb.clear()
	pg.HandleEndTurn(actor)

	next := actingPlayerID(pg)
	assert.NotEqual(t, actor, next, "end turn advances the queue")
	updated = mb.findEventByType(EventGameUpdated)
	require.NotNil(t, updated)
	assert.Equal(t, next, updated.State.ActingPlayer)
}

func TestStateViewReportsLastAction(t *testing.T) {
	pg, _ := setupTestParty(t, 3, 4, DefaultPartyRules())

	pg.Mu.Lock()
	view := pg.StateView()
	pg.Mu.Unlock()
	assert.Nil(t, view.LastAction, "no action has landed yet")

	first := actingPlayerID(pg)
	gift := wrappedGiftID(t, pg)
	pg.HandlePick(first, gift)

	pg.Mu.Lock()
	view = pg.StateView()
	pg.Mu.Unlock()
	require.NotNil(t, view.LastAction)
	assert.Equal(t, "pick", view.LastAction.Action)
	assert.Equal(t, first, view.LastAction.Actor)
	assert.Equal(t, gift, view.LastAction.Gift)
	assert.Nil(t, view.LastAction.PrevOwner)

	pg.HandleEndTurn(first)
	thief := actingPlayerID(pg)
	pg.HandleSteal(thief, gift)

	pg.Mu.Lock()
	view = pg.StateView()
	pg.Mu.Unlock()
	require.NotNil(t, view.LastAction)
	assert.Equal(t, "steal", view.LastAction.Action)
	assert.Equal(t, thief, view.LastAction.Actor)
	assert.Equal(t, gift, view.LastAction.Gift)
	require.NotNil(t, view.LastAction.PrevOwner)
	assert.Equal(t, first, *view.LastAction.PrevOwner)
}

func TestOutOfTurnCommandRejected(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	intruder := otherPlayerID(pg, actor)
	gift := wrappedGiftID(t, pg)

	pg.HandlePick(intruder, gift)

	rejection := mb.lastPlayerEvent(intruder)
	require.NotNil(t, rejection, "expected a private rejection")
	assert.Equal(t, EventActionRejected, rejection.Type)
	assert.Equal(t, "not_your_turn", rejection.Payload["reason"])

	assert.Empty(t, mb.eventTypes(), "a rejected command must not broadcast")

	gs, ok := pg.engineGift(gift)
	require.True(t, ok)
	assert.True(t, gs.Wrapped(), "state must be untouched")
}

func TestEngineRejectionReasonOnWire(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	gift := wrappedGiftID(t, pg)

	pg.HandlePick(actor, gift)
	pg.HandleEndTurn(actor)
	mb.clear()

	// Next player tries to pick the already claimed gift.
	second := actingPlayerID(pg)
	pg.HandlePick(second, gift)

	rejection := mb.lastPlayerEvent(second)
	require.NotNil(t, rejection)
	assert.Equal(t, EventActionRejected, rejection.Type)
	assert.Equal(t, "gift_already_claimed", rejection.Payload["reason"])
}

func TestUnknownActionRejected(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)

	pg.HandlePlayerAction(actor, models.GameAction{ActionType: "dance"})

	rejection := mb.lastPlayerEvent(actor)
	require.NotNil(t, rejection)
	assert.Equal(t, "unknown_action", rejection.Payload["reason"])
}

func TestStealGivesVictimTheTurn(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())

	first := actingPlayerID(pg)
	gift := wrappedGiftID(t, pg)
	pg.HandlePick(first, gift)
	pg.HandleEndTurn(first)
	mb.clear()

	thief := actingPlayerID(pg)
	pg.HandleSteal(thief, gift)

	gs, ok := pg.engineGift(gift)
	require.True(t, ok)
	assert.Equal(t, thief, pg.EngineToPlayer[uint8(gs.Owner)])
	assert.Equal(t, 1, int(gs.StealCount))

	// The giftless victim acts next, without the queue moving.
	assert.Equal(t, first, actingPlayerID(pg))

	updated := mb.findEventByType(EventGameUpdated)
	require.NotNil(t, updated)
	assert.True(t, updated.State.VictimPending)
	assert.Equal(t, first, updated.State.ActingPlayer)

	// End turn from the thief is now out of turn.
	mb.clear()
	pg.HandleEndTurn(thief)
	rejection := mb.lastPlayerEvent(thief)
	require.NotNil(t, rejection)
	assert.Equal(t, "not_your_turn", rejection.Payload["reason"])
}

func TestFullGameReconcilesOwnership(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 3, DefaultPartyRules())

	// Everyone just picks; no steals means no repair needed.
	for !pg.GameOver {
		actor := actingPlayerID(pg)
		pg.Mu.Lock()
		canPick := pg.Engine.CanPick()
		pg.Mu.Unlock()
		if canPick {
			pg.HandlePick(actor, wrappedGiftID(t, pg))
		}
		pg.HandleEndTurn(actor)
	}

	ended := mb.findEventByType(EventGameEnded)
	require.NotNil(t, ended, "expected game-ended event")
	require.NotNil(t, ended.State)
	assert.True(t, ended.State.GameOver)
	assert.Equal(t, engine.RepairNone, pg.Repair)

	require.Len(t, pg.FinalOwnership, 3)
	seen := make(map[uuid.UUID]bool)
	for _, owner := range pg.FinalOwnership {
		assert.False(t, seen[owner], "a player may only own one gift")
		seen[owner] = true
	}
	require.Len(t, ended.State.FinalOwnership, 3)
}

func TestCommandsAfterGameOverRejected(t *testing.T) {
	pg, mb := setupTestParty(t, 2, 2, DefaultPartyRules())

	for !pg.GameOver {
		actor := actingPlayerID(pg)
		pg.Mu.Lock()
		canPick := pg.Engine.CanPick()
		pg.Mu.Unlock()
		if canPick {
			pg.HandlePick(actor, wrappedGiftID(t, pg))
		}
		pg.HandleEndTurn(actor)
	}
	mb.clear()

	loser := pg.Players[0].ID
	pg.HandleEndTurn(loser)
	rejection := mb.lastPlayerEvent(loser)
	require.NotNil(t, rejection)
	assert.Equal(t, "game_over", rejection.Payload["reason"])
}

func TestBotStaleTokenAborts(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)

	pg.Mu.Lock()
	beforeTurn := pg.TurnID
	beforeHistory := len(pg.History)
	pg.Mu.Unlock()

	// A callback scheduled for a turn that has since moved on must do
	// nothing.
	pg.runBotTurn(actor, beforeTurn-1)

	pg.Mu.Lock()
	assert.Equal(t, beforeTurn, pg.TurnID)
	assert.Equal(t, beforeHistory, len(pg.History))
	pg.Mu.Unlock()
	assert.Empty(t, mb.eventTypes())
}

func TestBotWrongActorAborts(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	other := otherPlayerID(pg, actor)

	pg.Mu.Lock()
	token := pg.TurnID
	pg.Mu.Unlock()

	pg.runBotTurn(other, token)

	assert.Empty(t, mb.eventTypes())
}

func TestBotRetryRecoversWithFreshDecision(t *testing.T) {
	pg, _ := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	wrapped := wrappedGiftID(t, pg)

	// Stealing a wrapped gift is always rejected; the runner must re-decide
	// and land a legal move instead.
	pg.Mu.Lock()
	turnBefore := pg.TurnID
	pg.applyBotDecision(actor, engine.EncodeSteal(pg.GiftToEngine[wrapped]), "scripted")
	pg.Mu.Unlock()

	pg.Mu.Lock()
	defer pg.Mu.Unlock()
	assert.Equal(t, turnBefore+1, pg.TurnID, "the retried decision must apply")
	assert.Equal(t, 0, pg.botRetries, "a successful transition resets the retry budget")
	assert.GreaterOrEqual(t, int(pg.Engine.GiftOf(pg.PlayerToEngine[actor])), 0, "the retry should claim a gift")
}

func TestBotRetryCapForcesTurnClosed(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	wrapped := wrappedGiftID(t, pg)

	// With the retry budget already spent, one more rejection must close the
	// turn instead of deciding again.
	pg.Mu.Lock()
	pg.botRetries = maxBotRetries
	turnBefore := pg.TurnID
	pg.applyBotDecision(actor, engine.EncodeSteal(pg.GiftToEngine[wrapped]), "scripted")
	pg.Mu.Unlock()

	rejection := mb.lastPlayerEvent(actor)
	require.NotNil(t, rejection)
	assert.Equal(t, EventActionRejected, rejection.Type)
	assert.Equal(t, "gift_still_wrapped", rejection.Payload["reason"])

	pg.Mu.Lock()
	assert.Equal(t, turnBefore+1, pg.TurnID, "the forced end turn must land")
	pg.Mu.Unlock()
	assert.NotEqual(t, actor, actingPlayerID(pg), "the turn is closed after the cap")
}

func TestBotForcedSkipRaisesAnomalyCounter(t *testing.T) {
	pg, _ := setupTestParty(t, 3, 3, DefaultPartyRules())

	first := actingPlayerID(pg)
	gift := wrappedGiftID(t, pg)
	pg.HandlePick(first, gift)
	pg.HandleEndTurn(first)
	thief := actingPlayerID(pg)
	pg.HandleSteal(thief, gift)
	require.Equal(t, first, actingPlayerID(pg), "victim must act next")

	// Strand the victim: the stolen gift is blocked for them, and every
	// other gift leaves the wrapped pool frozen in someone else's hands.
	pg.Mu.Lock()
	thiefIdx := int8(pg.PlayerToEngine[thief])
	for i := uint8(0); i < pg.Engine.NumGifts; i++ {
		if pg.Engine.Gifts[i].Wrapped() {
			pg.Engine.Gifts[i] = engine.GiftState{Owner: thiefIdx, StealCount: 3, Flags: engine.GiftFlagFrozen}
		}
	}
	token := pg.TurnID
	pg.Mu.Unlock()

	pg.runBotTurn(first, token)

	pg.Mu.Lock()
	defer pg.Mu.Unlock()
	assert.Equal(t, 1, pg.forcedSkips, "forced skip must be counted as an anomaly")
	assert.Equal(t, token+1, pg.TurnID, "the fallback skip still applies a transition")
	assert.GreaterOrEqual(t, pg.Engine.Victim, int8(0), "skipping does not discharge victim duty")
}

func TestBotTakesFullTurn(t *testing.T) {
	pg, mb := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)

	pg.Mu.Lock()
	token := pg.TurnID
	pg.Mu.Unlock()

	pg.runBotTurn(actor, token)

	// Opening move: the bot must pick and close its turn.
	assert.NotEqual(t, actor, actingPlayerID(pg))
	pg.Mu.Lock()
	gift := pg.Engine.GiftOf(pg.PlayerToEngine[actor])
	pg.Mu.Unlock()
	assert.GreaterOrEqual(t, int(gift), 0, "bot should hold a gift after its turn")

	types := mb.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, EventActionStarted, types[0])
}

func TestAllBotGameRunsToCompletion(t *testing.T) {
	pg := NewPartyGame()
	pg.BotDelay = time.Millisecond
	mb := newMockBroadcaster()
	pg.BroadcastFn = mb.broadcastFn
	pg.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	for i := 0; i < 4; i++ {
		_, err := pg.AddBot("Bot" + string(rune('A'+i)))
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := pg.AddGift("gift")
		require.NoError(t, err)
	}
	require.NoError(t, pg.Start())

	require.Eventually(t, func() bool {
		pg.Mu.Lock()
		defer pg.Mu.Unlock()
		return pg.GameOver
	}, 10*time.Second, 5*time.Millisecond, "bot game should finish on its own")

	require.NotNil(t, mb.findEventByType(EventGameEnded))
	pg.Mu.Lock()
	defer pg.Mu.Unlock()
	assert.Len(t, pg.FinalOwnership, 5, "every gift ends up owned")
	owners := make(map[uuid.UUID]bool)
	for _, owner := range pg.FinalOwnership {
		owners[owner] = true
	}
	assert.Len(t, owners, 4, "every bot ends up with at least one gift")
}

func TestHandleDisconnectMarksPlayer(t *testing.T) {
	pg, _ := setupTestParty(t, 3, 4, DefaultPartyRules())
	target := pg.Players[1]

	pg.HandleDisconnect(target.ID)

	assert.False(t, target.Connected)
	assert.Nil(t, target.Conn)
}

func TestSnapshotRoundTrip(t *testing.T) {
	pg, _ := setupTestParty(t, 3, 4, DefaultPartyRules())
	actor := actingPlayerID(pg)
	pg.HandlePick(actor, wrappedGiftID(t, pg))

	pg.Mu.Lock()
	snap := pg.snapshot()
	pg.Mu.Unlock()

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded partySnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := NewPartyGame()
	restored.Mu.Lock()
	restored.restoreSnapshot(decoded)
	restored.Mu.Unlock()

	assert.Equal(t, pg.ID, restored.ID)
	assert.Equal(t, pg.Rules, restored.Rules)
	assert.Equal(t, pg.TurnID, restored.TurnID)
	assert.Equal(t, pg.Engine, restored.Engine)
	assert.Equal(t, pg.History, restored.History)
	assert.Equal(t, pg.PlayerToEngine, restored.PlayerToEngine)
	assert.Equal(t, pg.GiftToEngine, restored.GiftToEngine)

	// The restored party resolves the same acting player.
	assert.Equal(t, actor, restored.EngineToPlayer[restored.Engine.ActingPlayer()])
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	pg := m.CreateParty(PartyRules{MaxSteals: 2, ReturnToStart: true})

	assert.Equal(t, 2, pg.Rules.MaxSteals)
	assert.True(t, pg.Rules.ReturnToStart)

	got, ok := m.Get(pg.ID)
	require.True(t, ok)
	assert.Same(t, pg, got)
	assert.Equal(t, 1, m.Count())

	m.Remove(pg.ID)
	_, ok = m.Get(pg.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestCreatePartyZeroRulesGetDefaults(t *testing.T) {
	m := NewManager()
	pg := m.CreateParty(PartyRules{})
	assert.Equal(t, DefaultPartyRules(), pg.Rules)
}
