package engine

import "time"

// Options controls the pacing and health thresholds of the control loop.
type Options struct {
	LoopInterval time.Duration

	// A venue whose snapshot is older than its threshold makes both sides unsafe.
	MakerStaleAfter     time.Duration
	AggressorStaleAfter time.Duration

	// WarmUp bounds the wait for the first snapshot of both venues.
	WarmUp time.Duration

	// SessionRefresh is the period of the maker token refresh and of the
	// aggressor session cycle (retreat, refresh, resync).
	SessionRefresh time.Duration

	// Aggressor re-login after a refresh that left the session invalid.
	ReloginInitial  time.Duration
	ReloginAttempts int

	// DumpFile receives the loop state when a panic is recovered.
	DumpFile string
}

// DefaultOptions mirrors the production settings.
func DefaultOptions() Options {
	return Options{
		LoopInterval:        500 * time.Millisecond,
		MakerStaleAfter:     11 * time.Second,
		AggressorStaleAfter: 6 * time.Second,
		WarmUp:              5 * time.Second,
		SessionRefresh:      10 * time.Minute,
		ReloginInitial:      60 * time.Second,
		ReloginAttempts:     5,
		DumpFile:            "panic_dump.json",
	}
}
