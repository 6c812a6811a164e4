package shard

import (
	"reflect"
	"testing"

	"deepshard.gg/internal/sim/tuning"
	"deepshard.gg/internal/sim/worldgen"
)

type mapBlocks map[Coord]worldgen.Block

func (m mapBlocks) BlockAt(x, y int) (worldgen.Block, bool) {
	b, ok := m[Coord{X: x, Y: y}]
	return b, ok
}

func tntLine(n int) mapBlocks {
	m := mapBlocks{}
	for i := 0; i < n; i++ {
		m[Coord{X: 10 + i, Y: 50}] = worldgen.Block{Type: worldgen.TNT, HP: 1, MaxHP: 1, X: 10 + i, Y: 50}
	}
	return m
}

func TestResolveExplosion_ChainOfN(t *testing.T) {
	cfg := tuning.Defaults().Explosion
	for _, n := range []int{1, 3, 5, cfg.MaxChainLength} {
		res := ResolveExplosion(tntLine(n), Coord{X: 10, Y: 50}, cfg)
		if res.ChainLength != n {
			t.Fatalf("n=%d: chain length %d", n, res.ChainLength)
		}
		if len(res.Phases) != n {
			t.Fatalf("n=%d: %d phases", n, len(res.Phases))
		}
		if res.TotalBlocksDestroyed != n {
			t.Fatalf("n=%d: destroyed %d", n, res.TotalBlocksDestroyed)
		}
		prev := -1
		seen := map[Coord]bool{}
		for _, ph := range res.Phases {
			if ph.DelayMs <= prev {
				t.Fatalf("n=%d: delays not strictly increasing: %d after %d", n, ph.DelayMs, prev)
			}
			prev = ph.DelayMs
			for _, c := range ph.Destroyed {
				if seen[c] {
					t.Fatalf("n=%d: block %+v listed twice", n, c)
				}
				seen[c] = true
			}
		}
		if len(seen) != res.TotalBlocksDestroyed {
			t.Fatalf("n=%d: union %d != total %d", n, len(seen), res.TotalBlocksDestroyed)
		}
	}
}

func TestResolveExplosion_CapsChain(t *testing.T) {
	cfg := tuning.Defaults().Explosion
	cfg.MaxChainLength = 3
	res := ResolveExplosion(tntLine(10), Coord{X: 10, Y: 50}, cfg)
	if res.ChainLength != 3 {
		t.Fatalf("cap ignored: chain length %d", res.ChainLength)
	}
}

func TestResolveExplosion_Deterministic(t *testing.T) {
	cfg := tuning.Defaults().Explosion
	blocks := tntLine(4)
	blocks[Coord{X: 11, Y: 51}] = worldgen.Block{Type: worldgen.Stone, HP: 4, MaxHP: 4, X: 11, Y: 51}
	blocks[Coord{X: 9, Y: 49}] = worldgen.Block{Type: worldgen.Bedrock, X: 9, Y: 49}

	a := ResolveExplosion(blocks, Coord{X: 10, Y: 50}, cfg)
	b := ResolveExplosion(blocks, Coord{X: 10, Y: 50}, cfg)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two resolutions differ")
	}

	// Bedrock survives; the stone neighbor does not.
	destroyedStone := false
	for _, ph := range a.Phases {
		for _, c := range ph.Destroyed {
			if c == (Coord{X: 9, Y: 49}) {
				t.Fatalf("bedrock destroyed")
			}
			if c == (Coord{X: 11, Y: 51}) {
				destroyedStone = true
			}
		}
	}
	if !destroyedStone {
		t.Fatalf("stone within blast radius survived")
	}
}

func TestResolveExplosion_NonTNTOriginIsNoOp(t *testing.T) {
	cfg := tuning.Defaults().Explosion
	blocks := mapBlocks{
		{X: 5, Y: 5}: worldgen.Block{Type: worldgen.Stone, HP: 4, MaxHP: 4, X: 5, Y: 5},
	}
	res := ResolveExplosion(blocks, Coord{X: 5, Y: 5}, cfg)
	if res.ChainLength != 0 || len(res.Phases) != 0 {
		t.Fatalf("stone origin must not detonate: %+v", res)
	}
}

func TestResolveExplosion_PenaltyScalesWithChain(t *testing.T) {
	cfg := tuning.Defaults().Explosion
	one := ResolveExplosion(tntLine(1), Coord{X: 10, Y: 50}, cfg)
	three := ResolveExplosion(tntLine(3), Coord{X: 10, Y: 50}, cfg)
	if three.TotalGoldPenalty <= one.TotalGoldPenalty {
		t.Fatalf("penalty must scale with chain: %d vs %d", one.TotalGoldPenalty, three.TotalGoldPenalty)
	}
	if three.TotalLaunchDistance <= one.TotalLaunchDistance {
		t.Fatalf("launch must scale with chain")
	}
}
