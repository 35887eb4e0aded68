package playbook

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbooks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
playbooks:
  - id: breakout
    name: Breakout
    type: momentum
    stop_distance_pct: 0.02
    target_r_multiple: 2.0
    is_active: true
  - id: dip_buy
    name: Dip Buy
    type: reversion
    stop_distance_pct: 0.025
    is_active: false
`)

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	d, ok := cat.Get("breakout")
	if !ok {
		t.Fatalf("expected breakout playbook")
	}
	if d.StopDistancePct != 0.02 {
		t.Errorf("StopDistancePct = %v, want 0.02", d.StopDistancePct)
	}

	active := cat.Active()
	if len(active) != 1 || active[0].ID != "breakout" {
		t.Errorf("Active() = %v, want only breakout", active)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{"breakout", "mean_reversion", "event_driven", "dip_buy"} {
		if _, ok := cat.Get(id); !ok {
			t.Errorf("default catalog missing %q", id)
		}
	}
}

func TestLoadRejectsBadStopDistance(t *testing.T) {
	path := writeCatalog(t, `
playbooks:
  - id: broken
    stop_distance_pct: 0
    is_active: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for zero stop distance")
	}
}

func TestLoadRejectsDuplicateID(t *testing.T) {
	path := writeCatalog(t, `
playbooks:
  - id: breakout
    stop_distance_pct: 0.02
  - id: breakout
    stop_distance_pct: 0.03
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}
