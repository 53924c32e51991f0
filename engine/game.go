// Package engine implements the white-elephant gift exchange rules.
//
// The engine is a pure reducer over a flat value-type GameState: callers load
// a state, apply exactly one transition, and save the result. It holds no
// locks and performs no I/O, which keeps every transition atomic, total, and
// trivially unit-testable. Players and gifts are small integer indices; the
// service adapter maps durable IDs onto them.
package engine

import "fmt"

const (
	MaxPlayers  = 16
	MaxGifts    = 24
	MaxQueueLen = 2 * MaxPlayers
)

// GameState flag bits.
const (
	FlagGameStarted uint16 = 1 << 0
	FlagGameOver    uint16 = 1 << 1
)

// GameState holds the complete, self-contained state of one game.
// It is a flat value type (no pointers, no slices) so a snapshot is a plain
// struct copy and serialization is stable.
type GameState struct {
	Queue      [MaxQueueLen]uint8 // precomputed turn slots (player indices)
	QueueLen   uint8
	TurnIdx    uint8 // pointer into Queue; advanced only by EndTurn
	NumPlayers uint8
	NumGifts   uint8

	Gifts [MaxGifts]GiftState

	Flags       uint16
	Victim      int8  // pending victim with steal priority, -1 = none
	BlockedGift int8  // gift the pending victim may not steal back, -1 = none
	Acted       uint8 // 1 once the current activation's actor has picked or stolen

	LastAction LastActionInfo
	Rules      Rules
}

// NewGame builds the initial state for a game of numPlayers players (already
// shuffled into turn order by the caller) and numGifts wrapped gifts.
//
// Standard queue: one forward pass plus a repeated first player, N+1 slots
// (the "bookend" final turn). Boomerang queue: forward pass plus full reverse
// pass, 2N slots, with the last player holding the two seam slots.
func NewGame(numPlayers, numGifts uint8, rules Rules) (GameState, error) {
	var g GameState

	if numPlayers < 2 {
		return g, fmt.Errorf("need at least 2 players, got %d", numPlayers)
	}
	if numPlayers > MaxPlayers {
		return g, fmt.Errorf("too many players: %d (max %d)", numPlayers, MaxPlayers)
	}
	if numGifts < numPlayers {
		return g, fmt.Errorf("need at least one gift per player: %d gifts for %d players", numGifts, numPlayers)
	}
	if numGifts > MaxGifts {
		return g, fmt.Errorf("too many gifts: %d (max %d)", numGifts, MaxGifts)
	}
	if rules.MaxSteals < 1 {
		return g, fmt.Errorf("maxSteals must be at least 1, got %d", rules.MaxSteals)
	}

	g.NumPlayers = numPlayers
	g.NumGifts = numGifts
	g.Rules = rules
	g.Victim = -1
	g.BlockedGift = -1

	for p := uint8(0); p < numPlayers; p++ {
		g.Queue[p] = p
	}
	if rules.Boomerang {
		for p := uint8(0); p < numPlayers; p++ {
			g.Queue[numPlayers+p] = numPlayers - 1 - p
		}
		g.QueueLen = 2 * numPlayers
	} else {
		g.Queue[numPlayers] = 0
		g.QueueLen = numPlayers + 1
	}

	for i := uint8(0); i < numGifts; i++ {
		g.Gifts[i] = GiftState{Owner: -1}
	}

	g.Flags |= FlagGameStarted
	return g, nil
}

// ---------------------------------------------------------------------------
// Query methods
// ---------------------------------------------------------------------------

// IsGameOver returns true once the queue has been exhausted.
func (g *GameState) IsGameOver() bool { return g.Flags&FlagGameOver != 0 }

// ActingPlayer returns the index of the player who must act next.
// A pending steal victim takes priority over the queue's nominal turn-holder.
func (g *GameState) ActingPlayer() uint8 {
	if g.Victim >= 0 {
		return uint8(g.Victim)
	}
	return g.NominalPlayer()
}

// NominalPlayer returns the queue's turn-holder, ignoring victim priority.
func (g *GameState) NominalPlayer() uint8 {
	if g.TurnIdx >= g.QueueLen {
		return g.Queue[g.QueueLen-1]
	}
	return g.Queue[g.TurnIdx]
}

// WrappedCount returns the number of gifts still in the wrapped pool.
func (g *GameState) WrappedCount() uint8 {
	var n uint8
	for i := uint8(0); i < g.NumGifts; i++ {
		if g.Gifts[i].Wrapped() {
			n++
		}
	}
	return n
}

// GiftOf returns the index of the unwrapped gift owned by player, or -1.
func (g *GameState) GiftOf(player uint8) int8 {
	for i := uint8(0); i < g.NumGifts; i++ {
		if !g.Gifts[i].Wrapped() && g.Gifts[i].Owner == int8(player) {
			return int8(i)
		}
	}
	return -1
}

// IsBookendSlot reports whether the current slot is the repeated final turn
// reserved for the first player in standard (non-boomerang) mode.
func (g *GameState) IsBookendSlot() bool {
	return !g.Rules.Boomerang && !g.IsGameOver() && g.TurnIdx == g.QueueLen-1
}

// InBoomerangPhase reports whether the queue is in its reverse pass, during
// which gift-holders are obligated to swap rather than skip.
func (g *GameState) InBoomerangPhase() bool {
	return g.Rules.Boomerang && !g.IsGameOver() && g.TurnIdx >= g.NumPlayers
}

// OwnershipError reports two unwrapped gifts sharing an owner — a defect that
// must be surfaced and repaired, never silently tolerated.
type OwnershipError struct {
	Player uint8
	GiftA  uint8
	GiftB  uint8
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("ownership invariant violated: player %d owns gifts %d and %d", e.Player, e.GiftA, e.GiftB)
}

// CheckOwnership validates that no two unwrapped gifts share an owner.
func (g *GameState) CheckOwnership() error {
	var owned [MaxPlayers]int8
	for p := range owned {
		owned[p] = -1
	}
	for i := uint8(0); i < g.NumGifts; i++ {
		gs := g.Gifts[i]
		if gs.Wrapped() {
			continue
		}
		p := uint8(gs.Owner)
		if prev := owned[p]; prev >= 0 {
			return &OwnershipError{Player: p, GiftA: uint8(prev), GiftB: i}
		}
		owned[p] = int8(i)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Snapshot (Save / Restore)
// ---------------------------------------------------------------------------

// Snapshot is a complete value-copy of GameState. Saving and restoring are
// plain struct copies; no heap allocation.
type Snapshot GameState

// Save returns a snapshot of the current game state.
func (g *GameState) Save() Snapshot { return Snapshot(*g) }

// Restore replaces the game state with the given snapshot.
func (g *GameState) Restore(s Snapshot) { *g = GameState(s) }
