package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistrySetOverridesDefault(t *testing.T) {
	r := NewRegistry()
	width := r.Int64Param("shard-width", 1000, Default)

	if err := r.Set("shard-width", "100", Default); err != nil {
		t.Fatalf("Set: %s", err)
	}
	if *width != 100 {
		t.Fatalf("expected 100, got %d", *width)
	}
}

func TestRegistryUpdateRejectsNoUpdate(t *testing.T) {
	r := NewRegistry()
	fixed := r.Int64Param("fixed", 1, NoUpdate)

	if err := r.Update("fixed", "2"); err == nil {
		t.Fatalf("expected Update to reject a NoUpdate param")
	}
	if *fixed != 1 {
		t.Fatalf("expected rejected Update to leave the value untouched, got %d", *fixed)
	}
}

func TestTunablesUpdateRejectsShardTopologyButAllowsInactivityShutdown(t *testing.T) {
	tn := NewTunables()

	if err := tn.Update("shard-width", "2000"); err == nil {
		t.Fatalf("expected Update to reject shard-width, a NoUpdate param")
	}
	if err := tn.Update("shard-base", "-500"); err == nil {
		t.Fatalf("expected Update to reject shard-base, a NoUpdate param")
	}

	if err := tn.Update("inactivity-shutdown", "1m"); err != nil {
		t.Fatalf("expected inactivity-shutdown to accept a live Update: %s", err)
	}
	if *tn.InactivityShutdown != time.Minute {
		t.Fatalf("expected inactivity-shutdown 1m, got %s", *tn.InactivityShutdown)
	}

	// Startup-time Set still applies to NoUpdate params; only Update rejects them.
	if err := tn.Set("shard-width", "2000"); err != nil {
		t.Fatalf("expected startup Set to still accept shard-width: %s", err)
	}
	if *tn.ShardWidth != 2000 {
		t.Fatalf("expected shard-width 2000, got %d", *tn.ShardWidth)
	}
}

func TestRegistrySetUnknownParamFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Set("nope", "1", Default); err == nil {
		t.Fatalf("expected an error for an unregistered param")
	}
}

func TestLoadAppliesHCLAttributes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xflat.hcl")
	body := `shard-width = 500
shard-base = -100
inactivity-shutdown = "5m"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	tn := NewTunables()
	if err := tn.Load(path); err != nil {
		t.Fatalf("Load: %s", err)
	}
	if *tn.ShardWidth != 500 {
		t.Fatalf("expected shard-width 500, got %d", *tn.ShardWidth)
	}
	if *tn.ShardBase != -100 {
		t.Fatalf("expected shard-base -100, got %d", *tn.ShardBase)
	}
	if *tn.InactivityShutdown != 5*time.Minute {
		t.Fatalf("expected inactivity-shutdown 5m, got %s", *tn.InactivityShutdown)
	}
}

func TestLoadRejectsUnknownAttribute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xflat.hcl")
	if err := os.WriteFile(path, []byte(`bogus = 1`), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	tn := NewTunables()
	if err := tn.Load(path); err == nil {
		t.Fatalf("expected Load to reject an unknown attribute")
	}
}
