package game

import (
	"github.com/google/uuid"

	engine "github.com/Leftyshields/better-white-elephant-sub000/engine"
)

// GiftView is a gift's public state for client synchronization. A wrapped
// gift exposes no owner; its label stays hidden until it is claimed.
type GiftView struct {
	ID         uuid.UUID  `json:"id"`
	Label      string     `json:"label,omitempty"`
	Wrapped    bool       `json:"wrapped"`
	Owner      *uuid.UUID `json:"owner,omitempty"`
	StealCount int        `json:"stealCount"`
	Frozen     bool       `json:"frozen"`
}

// PlayerView is a party member's public state.
type PlayerView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsBot     bool      `json:"isBot"`
	Connected bool      `json:"connected"`
	IsActing  bool      `json:"isActing"`
}

// LastActionView describes the most recent pick or steal, so a late joiner
// can render what just happened without replaying the event stream.
type LastActionView struct {
	Action    string     `json:"action"`
	Actor     uuid.UUID  `json:"actor"`
	Gift      uuid.UUID  `json:"gift"`
	PrevOwner *uuid.UUID `json:"prevOwner,omitempty"`
}

// PartyStateView is the full public game state pushed to clients on join and
// after every transition. White elephant has no hidden per-player
// information, so a single view serves every observer.
type PartyStateView struct {
	PartyID       uuid.UUID `json:"partyId"`
	Started       bool      `json:"started"`
	GameOver      bool      `json:"gameOver"`
	TurnIndex     int       `json:"turnIndex"`
	QueueLen      int       `json:"queueLen"`
	ActingPlayer  uuid.UUID `json:"actingPlayer"`
	VictimPending bool      `json:"victimPending"`
	BoomerangPass bool      `json:"boomerangPass"`
	BookendTurn   bool      `json:"bookendTurn"`

	Players []PlayerView `json:"players"`
	Gifts   []GiftView   `json:"gifts"`

	// LastAction is nil until the first pick or steal lands.
	LastAction *LastActionView `json:"lastAction,omitempty"`

	// FinalOwnership is populated once the game has ended and been
	// reconciled: gift ID → owning player ID.
	FinalOwnership map[uuid.UUID]uuid.UUID `json:"finalOwnership,omitempty"`
}

// StateView builds the current client view.
// Assumes the game lock is held by the caller.
func (pg *PartyGame) StateView() PartyStateView {
	view := PartyStateView{
		PartyID:       pg.ID,
		Started:       pg.Started,
		GameOver:      pg.Engine.IsGameOver() || pg.GameOver,
		TurnIndex:     int(pg.Engine.TurnIdx),
		QueueLen:      int(pg.Engine.QueueLen),
		VictimPending: pg.Engine.Victim >= 0,
		BoomerangPass: pg.Engine.InBoomerangPhase(),
		BookendTurn:   pg.Engine.IsBookendSlot(),
	}

	if pg.Started && !view.GameOver {
		view.ActingPlayer = pg.EngineToPlayer[pg.Engine.ActingPlayer()]
	}

	acting := view.ActingPlayer
	for _, p := range pg.Players {
		view.Players = append(view.Players, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			IsBot:     p.IsBot,
			Connected: p.Connected || p.IsBot,
			IsActing:  p.ID == acting,
		})
	}

	if !pg.Started {
		// Pre-game lobby: the engine is not built yet, every gift is a
		// wrapped placeholder.
		for _, gf := range pg.Gifts {
			view.Gifts = append(view.Gifts, GiftView{ID: gf.ID, Wrapped: true})
		}
		return view
	}

	for i := uint8(0); i < pg.Engine.NumGifts; i++ {
		gs := pg.Engine.Gifts[i]
		gv := GiftView{
			ID:         pg.EngineToGift[i],
			Wrapped:    gs.Wrapped(),
			StealCount: int(gs.StealCount),
			Frozen:     gs.Frozen(),
		}
		if !gs.Wrapped() {
			ownerID := pg.EngineToPlayer[uint8(gs.Owner)]
			gv.Owner = &ownerID
			gv.Label = pg.Gifts[i].Label
		}
		view.Gifts = append(view.Gifts, gv)
	}

	// ActionIdx zero is EndTurn, which never records a LastAction.
	if la := pg.Engine.LastAction; la.ActionIdx != engine.ActionEndTurn {
		lv := &LastActionView{
			Actor: pg.EngineToPlayer[la.Actor],
			Gift:  pg.EngineToGift[la.Gift],
		}
		if _, ok := engine.ActionIsPick(la.ActionIdx); ok {
			lv.Action = "pick"
		} else {
			lv.Action = "steal"
			if la.PrevOwner >= 0 {
				prev := pg.EngineToPlayer[uint8(la.PrevOwner)]
				lv.PrevOwner = &prev
			}
		}
		view.LastAction = lv
	}

	if len(pg.FinalOwnership) > 0 {
		view.FinalOwnership = make(map[uuid.UUID]uuid.UUID, len(pg.FinalOwnership))
		for g, p := range pg.FinalOwnership {
			view.FinalOwnership[g] = p
		}
	}
	return view
}

// giftIndex resolves a durable gift ID to its engine index.
func (pg *PartyGame) giftIndex(giftID uuid.UUID) (uint8, bool) {
	idx, ok := pg.GiftToEngine[giftID]
	return idx, ok
}

// engineGift is a convenience accessor used by tests.
func (pg *PartyGame) engineGift(giftID uuid.UUID) (engine.GiftState, bool) {
	idx, ok := pg.giftIndex(giftID)
	if !ok {
		return engine.GiftState{}, false
	}
	return pg.Engine.Gifts[idx], true
}
