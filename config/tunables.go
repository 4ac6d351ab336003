package config

import "time"

// Tunables are the runtime-configurable knobs a deployment sets at startup:
// shard topology and the inactivity threshold before a table's engine may
// spin itself down. The inactivity threshold can also be changed later
// through Update. Internal engine timing (maintenance sweep
// period, dump coalescing window) stays fixed; it tunes the cached-document
// engine's own bookkeeping, not anything an operator needs to reach for.
type Tunables struct {
	reg *Registry

	// ShardWidth and ShardBase fix the interval scheme already baked into
	// every shard file name on disk; registered NoUpdate because changing
	// either one out from under a running sharded engine would misroute
	// existing shards instead of just the ones created from then on.
	ShardWidth *int64
	ShardBase  *int64

	InactivityShutdown *time.Duration
}

// NewTunables registers XFlat's tunables against a fresh registry with their
// defaults, ready to be overridden by Load or Set before first use.
func NewTunables() *Tunables {
	reg := NewRegistry()
	return &Tunables{
		reg:                reg,
		ShardWidth:         reg.Int64Param("shard-width", 1000, NoUpdate),
		ShardBase:          reg.Int64Param("shard-base", 0, NoUpdate),
		InactivityShutdown: reg.DurationParam("inactivity-shutdown", 10*time.Minute, Default),
	}
}

// Load applies an HCL config file's attributes to these tunables.
func (t *Tunables) Load(path string) error { return t.reg.Load(path) }

// Set applies a single "name=value" override, as from a startup CLI flag.
// It bypasses the NoUpdate protection, which only guards changes made
// through Update after startup.
func (t *Tunables) Set(name, val string) error { return t.reg.Set(name, val, Default) }

// Update applies a single "name=value" override to an already-running
// deployment, rejecting any tunable registered NoUpdate (shard topology).
func (t *Tunables) Update(name, val string) error { return t.reg.Update(name, val) }

// List renders the current value of every tunable, sorted by name.
func (t *Tunables) List() string { return t.reg.List() }
