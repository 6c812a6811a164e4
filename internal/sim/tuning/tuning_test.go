package tuning

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if !reflect.DeepEqual(got, Defaults()) {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestLoad_OverridesAndValidation(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: 10\nroom_code_length: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 10 || got.RoomCodeLength != 5 {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.Explosion.MaxChainLength != Defaults().Explosion.MaxChainLength {
		t.Fatalf("unset keys should keep defaults")
	}

	if err := os.WriteFile(p, []byte("room_code_length: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("room_code_length 20 should fail validation")
	}
}

func TestDamageForTier(t *testing.T) {
	tn := Defaults()
	if tn.DamageForTier(2) != 3 {
		t.Fatalf("tier 2 damage: got %d", tn.DamageForTier(2))
	}
	if tn.DamageForTier(99) != 1 {
		t.Fatalf("unknown tier should fall back to tier 0 damage")
	}
}
