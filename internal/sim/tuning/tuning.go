// Package tuning holds operator-adjustable gameplay constants, loaded
// from YAML with sane defaults when no file is present.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz        int `yaml:"tick_rate_hz"`
	DefaultMaxPlayers int `yaml:"default_max_players"`
	PartyMaxPlayers   int `yaml:"party_max_players"`

	// Shards with no players linger this long before teardown.
	DrainGraceSeconds int `yaml:"drain_grace_seconds"`

	// Player-info snapshots are broadcast on this cadence.
	PlayerBroadcastMs int `yaml:"player_broadcast_ms"`

	RoomCodeLength int `yaml:"room_code_length"`

	Explosion Explosion      `yaml:"explosion"`
	Equipment []EquipmentRow `yaml:"equipment"`
}

type Explosion struct {
	BlastRadius     int `yaml:"blast_radius"`
	MaxChainLength  int `yaml:"max_chain_length"`
	PhaseDelayMs    int `yaml:"phase_delay_ms"`
	GoldPenaltyBase int `yaml:"gold_penalty_base"`
	LaunchPerChain  int `yaml:"launch_per_chain"`
}

// EquipmentRow maps an equipment tier to its dig damage. This is the
// authoritative damage source: digs read the acting player's persisted
// tier, never a hardcoded base.
type EquipmentRow struct {
	Tier   int `yaml:"tier"`
	Damage int `yaml:"damage"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:        20,
		DefaultMaxPlayers: 8,
		PartyMaxPlayers:   4,
		DrainGraceSeconds: 30,
		PlayerBroadcastMs: 250,
		RoomCodeLength:    6,
		Explosion: Explosion{
			BlastRadius:     2,
			MaxChainLength:  8,
			PhaseDelayMs:    180,
			GoldPenaltyBase: 5,
			LaunchPerChain:  3,
		},
		Equipment: []EquipmentRow{
			{Tier: 0, Damage: 1},
			{Tier: 1, Damage: 2},
			{Tier: 2, Damage: 3},
			{Tier: 3, Damage: 5},
			{Tier: 4, Damage: 8},
		},
	}
}

// Load reads tuning from path. A missing file yields Defaults().
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.DefaultMaxPlayers <= 0 || t.PartyMaxPlayers <= 0 {
		return fmt.Errorf("max player counts must be > 0")
	}
	if t.RoomCodeLength < 4 || t.RoomCodeLength > 8 {
		return fmt.Errorf("room_code_length must be in [4,8]")
	}
	if t.Explosion.BlastRadius <= 0 {
		return fmt.Errorf("explosion.blast_radius must be > 0")
	}
	if t.Explosion.MaxChainLength <= 0 {
		return fmt.Errorf("explosion.max_chain_length must be > 0")
	}
	if len(t.Equipment) == 0 {
		return fmt.Errorf("equipment table must not be empty")
	}
	for _, row := range t.Equipment {
		if row.Damage <= 0 {
			return fmt.Errorf("equipment tier %d damage must be > 0", row.Tier)
		}
	}
	return nil
}

// DamageForTier looks up dig damage for an equipment tier, falling
// back to the lowest tier for unknown values.
func (t Tuning) DamageForTier(tier int) int {
	fallback := 1
	for _, row := range t.Equipment {
		if row.Tier == tier {
			return row.Damage
		}
		if row.Tier == 0 {
			fallback = row.Damage
		}
	}
	return fallback
}
