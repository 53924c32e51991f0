// Package agent implements the autoplay decision policy for non-human
// participants. The agent consults the engine's legal-move policy — the same
// predicates that validate human requests — so a bot can never select a move
// a human would have been denied.
package agent

import (
	engine "github.com/Leftyshields/better-white-elephant-sub000/engine"
)

// Decision is the agent's chosen action together with a log-friendly
// explanation of why it was chosen.
type Decision struct {
	Action uint16
	Reason string
	Forced bool // true when no legal pick or steal existed and the turn was skipped as a fallback
}

// Agent selects legal actions for automated players. Ties are broken with an
// internal xorshift64 RNG, so a fixed seed yields a fully deterministic run.
type Agent struct {
	rng uint64
}

// New returns an Agent seeded for reproducible play.
func New(seed uint64) *Agent {
	if seed == 0 {
		seed = 1 // xorshift can't start at 0
	}
	return &Agent{rng: seed}
}

func (a *Agent) nextRand() uint64 {
	x := a.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	a.rng = x
	return x
}

// randN returns a random number in [0, n).
func (a *Agent) randN(n uint64) uint64 {
	return a.nextRand() % n
}

// Decide selects one legal action for the current acting player:
//
//  1. A pending giftless victim picks if wrapped gifts remain, else steals;
//     with no legal move at all the turn is skipped and flagged as forced.
//  2. A giftless actor picks while wrapped gifts remain (claiming priority).
//  3. A gift-holder in the boomerang reverse pass steals a random legal
//     target, or skips when none exists.
//  4. Otherwise only steals can be on the table (a holder may never pick,
//     and a giftless actor falls through the claiming branch only once the
//     wrapped pool is empty): steal a random legal target, or skip.
func (a *Agent) Decide(g *engine.GameState) Decision {
	if g.IsGameOver() {
		return Decision{Action: engine.ActionEndTurn, Reason: "game over"}
	}

	picks := a.legalMoves(g, true)
	steals := a.legalMoves(g, false)

	if g.Victim >= 0 {
		if len(picks) > 0 {
			return Decision{Action: a.choose(picks), Reason: "victim duty: claiming a wrapped gift"}
		}
		if len(steals) > 0 {
			return Decision{Action: a.choose(steals), Reason: "victim duty: no wrapped gifts left, stealing"}
		}
		// A victim should always have a move; skipping here avoids deadlock.
		return Decision{Action: engine.ActionEndTurn, Reason: "victim had no legal move", Forced: true}
	}

	actor := g.ActingPlayer()
	holds := g.GiftOf(actor) >= 0

	if !holds && len(picks) > 0 {
		return Decision{Action: a.choose(picks), Reason: "claiming priority: wrapped gifts remain"}
	}

	if g.InBoomerangPhase() && holds {
		if len(steals) > 0 {
			return Decision{Action: a.choose(steals), Reason: "boomerang pass: forced swap"}
		}
		return Decision{Action: engine.ActionEndTurn, Reason: "boomerang pass: no legal swap target"}
	}

	// Holders can never pick, and a giftless actor only falls through the
	// claiming branch once the wrapped pool is empty, so picks is always
	// empty here.
	if len(steals) > 0 {
		return Decision{Action: a.choose(steals), Reason: "stealing an unwrapped gift"}
	}
	return Decision{Action: engine.ActionEndTurn, Reason: "no gift action available, skipping"}
}

// legalMoves collects the legal pick or steal action indices.
func (a *Agent) legalMoves(g *engine.GameState, picks bool) []uint16 {
	var moves []uint16
	mask := g.LegalActions()
	for i := uint16(0); i < engine.NumActions; i++ {
		if mask>>i&1 != 1 {
			continue
		}
		if picks {
			if _, ok := engine.ActionIsPick(i); ok {
				moves = append(moves, i)
			}
		} else {
			if _, ok := engine.ActionIsSteal(i); ok {
				moves = append(moves, i)
			}
		}
	}
	return moves
}

// choose picks uniformly among the candidate actions.
func (a *Agent) choose(moves []uint16) uint16 {
	return moves[a.randN(uint64(len(moves)))]
}
