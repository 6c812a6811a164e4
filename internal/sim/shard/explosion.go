package shard

import (
	"deepshard.gg/internal/sim/tuning"
	"deepshard.gg/internal/sim/worldgen"
)

// BlockReader is the read-only world view the resolver walks. The
// shard implements it over its loaded chunks; tests use fixed maps.
type BlockReader interface {
	BlockAt(x, y int) (worldgen.Block, bool)
}

type Coord struct {
	X, Y int
}

type ExplosionPhase struct {
	Center    Coord
	Destroyed []Coord
	DelayMs   int
}

type ExplosionResult struct {
	Phases               []ExplosionPhase
	TotalBlocksDestroyed int
	TotalGoldPenalty     int
	TotalLaunchDistance  float64
	ChainLength          int
}

// ResolveExplosion computes the full chain reaction from detonating
// the TNT at origin. It is a pure function of (blocks, origin, cfg):
// it never mutates the world and identical inputs yield identical
// results, so server recomputation and client prediction agree.
//
// Phase 0 detonates the origin. Every TNT destroyed by a phase is
// queued and detonates in its own later phase, oldest first, until
// the queue empties or the chain cap is reached. Phase delays increase
// strictly so observers can play the chain back as a sequence.
func ResolveExplosion(blocks BlockReader, origin Coord, cfg tuning.Explosion) ExplosionResult {
	var res ExplosionResult

	ob, ok := blocks.BlockAt(origin.X, origin.Y)
	if !ok || ob.Type != worldgen.TNT {
		return res
	}

	destroyed := map[Coord]bool{}
	queue := []Coord{origin}

	for len(queue) > 0 && len(res.Phases) < cfg.MaxChainLength {
		center := queue[0]
		queue = queue[1:]

		phase := ExplosionPhase{
			Center:  center,
			DelayMs: len(res.Phases) * cfg.PhaseDelayMs,
		}
		// Deterministic sweep order: row-major over the blast square.
		// A cell is listed in exactly one phase, the first that
		// reaches it; TNT reached later in the chain detonates as its
		// own phase but is never listed twice.
		for dy := -cfg.BlastRadius; dy <= cfg.BlastRadius; dy++ {
			for dx := -cfg.BlastRadius; dx <= cfg.BlastRadius; dx++ {
				c := Coord{X: center.X + dx, Y: center.Y + dy}
				if destroyed[c] {
					continue
				}
				b, ok := blocks.BlockAt(c.X, c.Y)
				if !ok || !worldgen.Destructible(b.Type) {
					continue
				}
				destroyed[c] = true
				phase.Destroyed = append(phase.Destroyed, c)
				if b.Type == worldgen.TNT && c != center {
					queue = append(queue, c)
				}
			}
		}
		res.Phases = append(res.Phases, phase)
	}

	res.ChainLength = len(res.Phases)
	res.TotalBlocksDestroyed = len(destroyed)
	res.TotalGoldPenalty = cfg.GoldPenaltyBase * res.ChainLength
	res.TotalLaunchDistance = float64(cfg.LaunchPerChain * res.ChainLength)
	return res
}
