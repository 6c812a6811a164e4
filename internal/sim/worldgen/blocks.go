package worldgen

// BlockType identifies what occupies one world cell.
type BlockType string

const (
	Empty     BlockType = "EMPTY"
	Dirt      BlockType = "DIRT"
	Stone     BlockType = "STONE"
	HardStone BlockType = "HARD_STONE"
	Gold      BlockType = "GOLD"
	Diamond   BlockType = "DIAMOND"
	TNT       BlockType = "TNT"
	Bedrock   BlockType = "BEDROCK"
	Unknown   BlockType = "UNKNOWN"
)

type Block struct {
	Type  BlockType `json:"type"`
	HP    int       `json:"hp"`
	MaxHP int       `json:"max_hp"`
	X     int       `json:"x"`
	Y     int       `json:"y"`
}

// Destroyed reports whether the block is logically gone. A block
// whose hp reaches 0 must become EMPTY in the same atomic step (the
// shard's invariant guard enforces the pairing), so EMPTY is the
// single source of truth here. Bedrock carries hp 0 but never empties.
func (b Block) Destroyed() bool {
	return b.Type == Empty
}

// MaxHPFor returns the baseline hit points for a block type. Values
// scale slightly with depth so deep stone takes more hits.
func MaxHPFor(t BlockType, y int) int {
	base := 0
	switch t {
	case Dirt:
		base = 2
	case Stone:
		base = 4
	case HardStone:
		base = 8
	case Gold:
		base = 5
	case Diamond:
		base = 10
	case TNT:
		base = 1
	case Bedrock:
		base = 0 // indestructible, hp unused
	default:
		return 0
	}
	if base > 0 && y >= 200 {
		base += base / 2
	}
	return base
}

// Damage applies damage to a hit-point total, clamped at zero.
func Damage(hp, damage int) int {
	if damage < 0 {
		damage = 0
	}
	hp -= damage
	if hp < 0 {
		return 0
	}
	return hp
}

// Destructible reports whether a blast can remove this block type.
func Destructible(t BlockType) bool {
	switch t {
	case Empty, Bedrock, Unknown:
		return false
	default:
		return true
	}
}
