package engine

// GiftState flag bits.
const (
	GiftFlagFrozen uint8 = 1 << 0
)

// GiftState holds the live state of a single gift.
// Owner is -1 while the gift is still wrapped.
type GiftState struct {
	Owner      int8  // owning player index, -1 = wrapped
	StealCount uint8 // times this gift has been stolen since its last reset
	Flags      uint8
}

// Wrapped reports whether the gift has not been claimed yet.
func (gs GiftState) Wrapped() bool { return gs.Owner < 0 }

// Frozen reports whether the gift has reached the steal threshold and is
// permanently locked to its current owner.
func (gs GiftState) Frozen() bool { return gs.Flags&GiftFlagFrozen != 0 }

// ---------------------------------------------------------------------------
// Action index constants
// ---------------------------------------------------------------------------
//
// Layout:
//   0        EndTurn
//   1–24     Pick(gift), MaxGifts entries
//   25–48    Steal(gift), MaxGifts entries
//   Total: 49 — the full space fits in a single uint64 legality mask.

const (
	ActionEndTurn uint16 = 0

	ActionBasePick  uint16 = 1
	ActionBaseSteal uint16 = ActionBasePick + uint16(MaxGifts)

	NumActions uint16 = ActionBaseSteal + uint16(MaxGifts)
)

// ---------------------------------------------------------------------------
// Encode functions
// ---------------------------------------------------------------------------

// EncodePick returns the action index for picking the wrapped gift at giftIdx.
func EncodePick(giftIdx uint8) uint16 { return ActionBasePick + uint16(giftIdx) }

// EncodeSteal returns the action index for stealing the gift at giftIdx.
func EncodeSteal(giftIdx uint8) uint16 { return ActionBaseSteal + uint16(giftIdx) }

// ---------------------------------------------------------------------------
// Decode / predicate functions
// ---------------------------------------------------------------------------

// ActionIsPick returns the gift index if idx encodes a Pick action.
func ActionIsPick(idx uint16) (giftIdx uint8, ok bool) {
	if idx >= ActionBasePick && idx < ActionBaseSteal {
		return uint8(idx - ActionBasePick), true
	}
	return 0, false
}

// ActionIsSteal returns the gift index if idx encodes a Steal action.
func ActionIsSteal(idx uint16) (giftIdx uint8, ok bool) {
	if idx >= ActionBaseSteal && idx < NumActions {
		return uint8(idx - ActionBaseSteal), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Events — the append-only history log
// ---------------------------------------------------------------------------

// EventKind identifies the kind of a history event.
type EventKind uint8

const (
	EventPick    EventKind = iota // 0 — gift claimed from the wrapped pool
	EventSteal                    // 1 — gift taken from its current owner
	EventTurnEnd                  // 2 — control event, not part of the replayable log
	EventGameEnd                  // 3 — control event, not part of the replayable log
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventPick:
		return "PICK"
	case EventSteal:
		return "STEAL"
	case EventTurnEnd:
		return "TURN_END"
	case EventGameEnd:
		return "GAME_END"
	}
	return "UNKNOWN"
}

// Event records a single applied transition. Pick and Steal events form the
// append-only history log from which final ownership can be rebuilt if the
// live gift map ever becomes inconsistent.
type Event struct {
	Kind          EventKind `json:"kind"`
	Actor         uint8     `json:"actor"`
	Gift          int8      `json:"gift"`          // -1 for control events
	PrevOwner     int8      `json:"prevOwner"`     // -1 when picked from the wrapped pool
	ExchangedGift int8      `json:"exchangedGift"` // gift handed to the victim, -1 if none
	StealCount    uint8     `json:"stealCount"`    // gift's steal count after the event
	BecameFrozen  bool      `json:"becameFrozen"`
	Timestamp     int64     `json:"ts"` // unix millis, stamped by the caller
}

// Replayable reports whether the event contributes to ownership replay.
func (e Event) Replayable() bool { return e.Kind == EventPick || e.Kind == EventSteal }

// ---------------------------------------------------------------------------
// LastActionInfo — public observation of the last applied transition.
// ---------------------------------------------------------------------------

// LastActionInfo summarizes the most recent Pick or Steal for observers.
type LastActionInfo struct {
	ActionIdx uint16
	Actor     uint8
	Gift      uint8
	PrevOwner int8
}
