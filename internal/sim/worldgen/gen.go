// Package worldgen produces deterministic terrain chunks. Generation
// is a pure function of (seed, chunk index): no math/rand, no state,
// so server restarts and replays regenerate identical baselines.
package worldgen

const (
	// ChunkWidth is the horizontal extent of the world in blocks.
	ChunkWidth = 24
	// ChunkRows is the vertical extent of one chunk; chunk i covers
	// world rows [i*ChunkRows, (i+1)*ChunkRows).
	ChunkRows = 16
)

type Chunk struct {
	Index  int
	Seed   int64
	Blocks [ChunkRows][ChunkWidth]Block
}

// Generate builds the baseline chunk for (seed, chunkIndex). Any seed
// and any index >= 0 are valid inputs.
func Generate(seed int64, chunkIndex int) Chunk {
	ch := Chunk{Index: chunkIndex, Seed: seed}
	for row := 0; row < ChunkRows; row++ {
		y := chunkIndex*ChunkRows + row
		for x := 0; x < ChunkWidth; x++ {
			t := blockAt(seed, x, y)
			hp := MaxHPFor(t, y)
			ch.Blocks[row][x] = Block{Type: t, HP: hp, MaxHP: hp, X: x, Y: y}
		}
	}
	return ch
}

// ChunkIndexForY maps a world row to its owning chunk.
func ChunkIndexForY(y int) int {
	if y < 0 {
		return 0
	}
	return y / ChunkRows
}

func blockAt(seed int64, x, y int) BlockType {
	// Row 0 is open sky where players spawn.
	if y <= 0 {
		return Empty
	}
	// World edges are sealed.
	if x == 0 || x == ChunkWidth-1 {
		return Bedrock
	}

	roll := hash2(seed, x, y) % 1000

	// Depth shifts the distribution: more hard stone, ore and TNT the
	// deeper the row. Band is clamped so distributions stabilize.
	band := y / 40
	if band > 5 {
		band = 5
	}

	tntCut := uint64(8 + 3*band)
	diamondCut := tntCut + uint64(2+2*band)
	goldCut := diamondCut + uint64(10+5*band)
	hardCut := goldCut + uint64(30+60*band)
	stoneCut := hardCut + uint64(150+80*band)
	emptyCut := stoneCut + uint64(60)

	switch {
	case roll < tntCut:
		return TNT
	case roll < diamondCut:
		return Diamond
	case roll < goldCut:
		return Gold
	case roll < hardCut:
		return HardStone
	case roll < stoneCut:
		return Stone
	case roll < emptyCut:
		return Empty // natural caves
	default:
		return Dirt
	}
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
