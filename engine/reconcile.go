package engine

// FinalOwnership maps gift index → player index. Entries at or beyond the
// game's gift count are -1.
type FinalOwnership [MaxGifts]int8

// RepairKind reports how much repair work reconciliation had to do.
type RepairKind uint8

const (
	RepairNone     RepairKind = iota // live state was consistent
	RepairReplayed                   // ownership rebuilt from the history log
	RepairForced                     // history also conflicted; deterministic fallback applied
)

// String returns a log-friendly name for the repair kind.
func (k RepairKind) String() string {
	switch k {
	case RepairNone:
		return "none"
	case RepairReplayed:
		return "replayed"
	case RepairForced:
		return "forced"
	}
	return "unknown"
}

// ReplayOwnership reconstructs gift ownership from scratch by walking the
// append-only history log. Only Pick and Steal events contribute. The history
// is the ground truth; the live gift map is a projection that can be rebuilt
// from it whenever the two disagree.
func ReplayOwnership(history []Event, numGifts uint8) FinalOwnership {
	var owners FinalOwnership
	for i := range owners {
		owners[i] = -1
	}
	for _, ev := range history {
		if !ev.Replayable() {
			continue
		}
		if ev.Gift < 0 || uint8(ev.Gift) >= numGifts {
			continue
		}
		owners[ev.Gift] = int8(ev.Actor)
		if ev.Kind == EventSteal && ev.ExchangedGift >= 0 && uint8(ev.ExchangedGift) < numGifts {
			owners[ev.ExchangedGift] = ev.PrevOwner
		}
	}
	return owners
}

// Reconcile produces the final gift → player assignment for a finished game.
//
// The live gift map is used as-is when consistent. If two gifts share an
// owner the ownership is rebuilt by replaying the history log; if the replay
// also conflicts, the first gift assigned per player (in gift-index order) is
// kept and the rest return to the pool. Unassigned gifts are then distributed
// to players holding none, in ascending player order; once every player holds
// a gift, remaining gifts are dealt round-robin so that no gift is left
// unowned. The result is deterministic and the function is idempotent: it
// never mutates the state it reads.
func Reconcile(g *GameState, history []Event) (FinalOwnership, RepairKind) {
	owners := liveOwnership(g)
	repair := RepairNone

	if hasDuplicateOwner(owners, g.NumPlayers, g.NumGifts) {
		owners = ReplayOwnership(history, g.NumGifts)
		repair = RepairReplayed

		if hasDuplicateOwner(owners, g.NumPlayers, g.NumGifts) {
			owners = dropDuplicates(owners, g.NumGifts)
			repair = RepairForced
		}
	}

	distributeLeftovers(&owners, g.NumPlayers, g.NumGifts)
	return owners, repair
}

// liveOwnership projects the live gift map into an ownership array.
func liveOwnership(g *GameState) FinalOwnership {
	var owners FinalOwnership
	for i := range owners {
		owners[i] = -1
	}
	for i := uint8(0); i < g.NumGifts; i++ {
		if !g.Gifts[i].Wrapped() {
			owners[i] = g.Gifts[i].Owner
		}
	}
	return owners
}

// hasDuplicateOwner reports whether any player appears twice in owners.
func hasDuplicateOwner(owners FinalOwnership, numPlayers, numGifts uint8) bool {
	var seen [MaxPlayers]bool
	for i := uint8(0); i < numGifts; i++ {
		p := owners[i]
		if p < 0 || uint8(p) >= numPlayers {
			continue
		}
		if seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}

// dropDuplicates keeps the first gift assigned per player in gift-index
// order; later duplicates return to the unassigned pool.
func dropDuplicates(owners FinalOwnership, numGifts uint8) FinalOwnership {
	var seen [MaxPlayers]bool
	for i := uint8(0); i < numGifts; i++ {
		p := owners[i]
		if p < 0 {
			continue
		}
		if seen[p] {
			owners[i] = -1
			continue
		}
		seen[p] = true
	}
	return owners
}

// distributeLeftovers assigns every unowned gift: first to players holding
// none in ascending player order, then round-robin once all players hold one.
func distributeLeftovers(owners *FinalOwnership, numPlayers, numGifts uint8) {
	var holds [MaxPlayers]bool
	for i := uint8(0); i < numGifts; i++ {
		if p := owners[i]; p >= 0 && uint8(p) < numPlayers {
			holds[p] = true
		}
	}

	next := uint8(0)
	for i := uint8(0); i < numGifts; i++ {
		if owners[i] >= 0 {
			continue
		}
		assigned := false
		for p := uint8(0); p < numPlayers; p++ {
			if !holds[p] {
				owners[i] = int8(p)
				holds[p] = true
				assigned = true
				break
			}
		}
		if !assigned {
			owners[i] = int8(next % numPlayers)
			next++
		}
	}
}
