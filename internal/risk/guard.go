package risk

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Guard holds the global lockout flag. While locked, the execution
// engine drops every incoming signal and the control plane answers 409.
// The flag is set by /panic (or an external drawdown accountant) and
// cleared by /panic/reset.
type Guard struct {
	locked atomic.Bool
}

// NewGuard creates an unlocked guard
func NewGuard() *Guard {
	return &Guard{}
}

// Lock engages the lockout
func (g *Guard) Lock(reason string) {
	if g.locked.CompareAndSwap(false, true) {
		log.Warn().Str("reason", reason).Msg("LOCKOUT engaged: all incoming orders will be rejected")
	}
}

// Unlock clears the lockout
func (g *Guard) Unlock() {
	if g.locked.CompareAndSwap(true, false) {
		log.Info().Msg("Lockout cleared, trading resumed")
	}
}

// Locked reports the current lockout state
func (g *Guard) Locked() bool {
	return g.locked.Load()
}
