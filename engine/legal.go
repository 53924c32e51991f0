package engine

import "errors"

// Typed rejection reasons. Each maps to a precondition of Pick, Steal, or
// EndTurn; a rejected action leaves the state unchanged.
var (
	ErrGameOver       = errors.New("game is already over")
	ErrAlreadyActed   = errors.New("actor has already acted this turn")
	ErrGiftNotFound   = errors.New("no such gift")
	ErrGiftNotWrapped = errors.New("gift has already been claimed")
	ErrGiftWrapped    = errors.New("gift is still wrapped")
	ErrGiftFrozen     = errors.New("gift is frozen and can no longer be stolen")
	ErrSelfSteal      = errors.New("cannot steal a gift you already own")
	ErrStealBack      = errors.New("cannot immediately steal back the gift just taken from you")
	ErrHolderCannot   = errors.New("a player holding a gift may not act on this turn")
	ErrFrozenHolder   = errors.New("cannot swap away a frozen gift")
)

// The legal-move policy below is the single implementation of within-turn
// legality. Both the transition validator (Apply) and the autoplay agent
// consult it, so human requests and bot decisions are judged by exactly the
// same rules.

// checkPick returns nil if the acting player may pick the gift at giftIdx.
func (g *GameState) checkPick(giftIdx uint8) error {
	if g.IsGameOver() {
		return ErrGameOver
	}
	if g.Acted != 0 {
		return ErrAlreadyActed
	}
	if giftIdx >= g.NumGifts {
		return ErrGiftNotFound
	}
	if !g.Gifts[giftIdx].Wrapped() {
		return ErrGiftNotWrapped
	}
	// A holder may never pick: a second gift would break the one-gift-per-
	// player invariant. Holders act by swapping (bookend or boomerang).
	if g.GiftOf(g.ActingPlayer()) >= 0 {
		return ErrHolderCannot
	}
	return nil
}

// checkSteal returns nil if the acting player may steal the gift at giftIdx.
func (g *GameState) checkSteal(giftIdx uint8) error {
	if g.IsGameOver() {
		return ErrGameOver
	}
	if g.Acted != 0 {
		return ErrAlreadyActed
	}
	if giftIdx >= g.NumGifts {
		return ErrGiftNotFound
	}
	gift := g.Gifts[giftIdx]
	if gift.Wrapped() {
		return ErrGiftWrapped
	}
	if gift.Frozen() {
		return ErrGiftFrozen
	}
	actor := g.ActingPlayer()
	if gift.Owner == int8(actor) {
		return ErrSelfSteal
	}
	if g.Victim >= 0 && int8(giftIdx) == g.BlockedGift && !g.Rules.AllowImmediateStealback {
		return ErrStealBack
	}
	if held := g.GiftOf(actor); held >= 0 {
		// Stealing with a gift in hand performs an exchange, which is only
		// permitted on the bookend slot or during the boomerang reverse pass,
		// and never with a frozen gift (a frozen gift may not change owner).
		if !g.IsBookendSlot() && !g.InBoomerangPhase() {
			return ErrHolderCannot
		}
		if g.Gifts[held].Frozen() {
			return ErrFrozenHolder
		}
	}
	return nil
}

// CanPick reports whether the acting player has any legal pick.
func (g *GameState) CanPick() bool {
	for i := uint8(0); i < g.NumGifts; i++ {
		if g.checkPick(i) == nil {
			return true
		}
	}
	return false
}

// CanStealGift reports whether the acting player may steal the given gift.
func (g *GameState) CanStealGift(giftIdx uint8) bool {
	return g.checkSteal(giftIdx) == nil
}

// CanSteal reports whether the acting player has any legal steal.
func (g *GameState) CanSteal() bool {
	for i := uint8(0); i < g.NumGifts; i++ {
		if g.checkSteal(i) == nil {
			return true
		}
	}
	return false
}

// CanSkip reports whether the acting player may decline to act: they must
// already hold a non-frozen gift and no forced-action condition may apply
// (victim duty, the boomerang reverse pass, or unclaimed wrapped gifts on a
// non-bookend slot).
func (g *GameState) CanSkip() bool {
	if g.IsGameOver() || g.Acted != 0 {
		return false
	}
	if g.Victim >= 0 {
		return false
	}
	held := g.GiftOf(g.ActingPlayer())
	if held < 0 || g.Gifts[held].Frozen() {
		return false
	}
	if g.InBoomerangPhase() {
		return false
	}
	if g.WrappedCount() > 0 && !g.IsBookendSlot() {
		return false
	}
	return true
}

// LegalActions returns a bitmask of legal action indices: bit i is set if
// action index i is legal. EndTurn is always available while the game is
// active — the caller decides when an activation closes.
func (g *GameState) LegalActions() uint64 {
	var mask uint64
	if g.IsGameOver() {
		return 0
	}
	mask |= 1 << ActionEndTurn
	for i := uint8(0); i < g.NumGifts; i++ {
		if g.checkPick(i) == nil {
			mask |= 1 << EncodePick(i)
		}
		if g.checkSteal(i) == nil {
			mask |= 1 << EncodeSteal(i)
		}
	}
	return mask
}

// LegalActionsList returns legal actions as a slice (for testing; allocates).
func (g *GameState) LegalActionsList() []uint16 {
	mask := g.LegalActions()
	var actions []uint16
	for i := uint16(0); i < NumActions; i++ {
		if mask>>i&1 == 1 {
			actions = append(actions, i)
		}
	}
	return actions
}
