package engine

import "fmt"

// Apply applies a single action by index, mutating the state in place and
// returning the resulting event. On error the state is unchanged, except for
// an *OwnershipError, which reports a post-transition invariant defect the
// caller must surface and repair (see Reconcile).
func (g *GameState) Apply(actionIdx uint16) (Event, error) {
	if g.IsGameOver() {
		return Event{}, ErrGameOver
	}

	if actionIdx == ActionEndTurn {
		return g.endTurn(), nil
	}
	if giftIdx, ok := ActionIsPick(actionIdx); ok {
		return g.pick(giftIdx)
	}
	if giftIdx, ok := ActionIsSteal(actionIdx); ok {
		return g.steal(giftIdx)
	}
	return Event{}, fmt.Errorf("unhandled action index %d", actionIdx)
}

// pick moves a gift from the wrapped pool to the acting player.
// The turn pointer is not advanced; the caller closes the turn with EndTurn
// once any confirmation step has completed.
func (g *GameState) pick(giftIdx uint8) (Event, error) {
	if err := g.checkPick(giftIdx); err != nil {
		return Event{}, err
	}

	actor := g.ActingPlayer()
	g.Gifts[giftIdx] = GiftState{Owner: int8(actor)}
	g.Acted = 1

	// Picking satisfies a pending victim's duty; the queue may resume.
	if g.Victim == int8(actor) {
		g.Victim = -1
		g.BlockedGift = -1
	}

	g.LastAction = LastActionInfo{
		ActionIdx: EncodePick(giftIdx),
		Actor:     actor,
		Gift:      giftIdx,
		PrevOwner: -1,
	}

	return Event{
		Kind:          EventPick,
		Actor:         actor,
		Gift:          int8(giftIdx),
		PrevOwner:     -1,
		ExchangedGift: -1,
	}, nil
}

// steal transfers an unwrapped gift to the acting player.
//
// The gift's steal count is incremented and it freezes permanently once the
// count reaches MaxSteals. If the actor already held a gift, that gift is
// handed to the victim with its count and freeze reset (an exchange gives the
// victim a fresh gift). Otherwise the victim is left giftless and becomes the
// active actor immediately, without consuming a queue slot, with the stolen
// gift blocked from an immediate steal-back.
func (g *GameState) steal(giftIdx uint8) (Event, error) {
	if err := g.checkSteal(giftIdx); err != nil {
		return Event{}, err
	}

	actor := g.ActingPlayer()
	victim := uint8(g.Gifts[giftIdx].Owner)
	held := g.GiftOf(actor)

	g.Gifts[giftIdx].StealCount++
	became := false
	if g.Gifts[giftIdx].StealCount >= g.Rules.MaxSteals && !g.Gifts[giftIdx].Frozen() {
		g.Gifts[giftIdx].Flags |= GiftFlagFrozen
		became = true
	}
	g.Gifts[giftIdx].Owner = int8(actor)

	if held >= 0 {
		// Exchange: the victim receives the actor's previous gift, reset to a
		// fresh state, and keeps their place in the queue.
		g.Gifts[held] = GiftState{Owner: int8(victim)}
		g.Victim = -1
		g.BlockedGift = -1
		g.Acted = 1
	} else {
		// Victim priority: the giftless victim acts next, and may not take
		// this gift straight back. The activation log resets for them.
		g.Victim = int8(victim)
		g.BlockedGift = int8(giftIdx)
		g.Acted = 0
	}

	g.LastAction = LastActionInfo{
		ActionIdx: EncodeSteal(giftIdx),
		Actor:     actor,
		Gift:      giftIdx,
		PrevOwner: int8(victim),
	}

	ev := Event{
		Kind:          EventSteal,
		Actor:         actor,
		Gift:          int8(giftIdx),
		PrevOwner:     int8(victim),
		ExchangedGift: held,
		StealCount:    g.Gifts[giftIdx].StealCount,
		BecameFrozen:  became,
	}

	if err := g.CheckOwnership(); err != nil {
		return ev, err
	}
	return ev, nil
}

// endTurn resolves the next active actor.
//
// While a victim is pending the call is a control no-op: the victim stays
// active until they act. Otherwise the turn pointer advances; running past
// the end of the queue ends the game and freezes all further transitions.
func (g *GameState) endTurn() Event {
	actor := g.ActingPlayer()

	if g.Victim >= 0 {
		return Event{Kind: EventTurnEnd, Actor: actor, Gift: -1, PrevOwner: -1, ExchangedGift: -1}
	}

	g.TurnIdx++
	if g.TurnIdx >= g.QueueLen {
		g.Flags |= FlagGameOver
		return Event{Kind: EventGameEnd, Actor: actor, Gift: -1, PrevOwner: -1, ExchangedGift: -1}
	}

	g.Acted = 0
	return Event{Kind: EventTurnEnd, Actor: actor, Gift: -1, PrevOwner: -1, ExchangedGift: -1}
}
