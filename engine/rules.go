package engine

// Rules holds the immutable configuration of one game.
type Rules struct {
	MaxSteals uint8 // steals before a gift freezes; minimum 1
	Boomerang bool  // true = snake-draft queue with a reverse pass

	// AllowImmediateStealback lifts the rule that a pending victim may not
	// steal back the exact gift just taken from them. The exact intended
	// boundary of the steal-back restriction is ambiguous upstream, so the
	// minimal version (blocked only for the victim's own priority activation)
	// is implemented and made configurable here.
	AllowImmediateStealback bool
}

// DefaultRules returns the standard white-elephant configuration:
// three steals to freeze, forward pass with a bookend final turn.
func DefaultRules() Rules {
	return Rules{
		MaxSteals: 3,
		Boomerang: false,
	}
}
