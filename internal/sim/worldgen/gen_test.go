package worldgen

import "testing"

func TestGenerate_Deterministic(t *testing.T) {
	for _, idx := range []int{0, 1, 7, 100} {
		a := Generate(1337, idx)
		b := Generate(1337, idx)
		if a != b {
			t.Fatalf("chunk %d differs between two generations", idx)
		}
	}
}

func TestGenerate_SeedChangesTerrain(t *testing.T) {
	a := Generate(1, 3)
	b := Generate(2, 3)
	if a.Blocks == b.Blocks {
		t.Fatalf("different seeds produced identical chunk 3")
	}
}

func TestGenerate_SkyRowAndSealedEdges(t *testing.T) {
	ch := Generate(42, 0)
	for x := 0; x < ChunkWidth; x++ {
		if ch.Blocks[0][x].Type != Empty {
			t.Fatalf("row 0 col %d not empty: %s", x, ch.Blocks[0][x].Type)
		}
	}
	for row := 1; row < ChunkRows; row++ {
		if ch.Blocks[row][0].Type != Bedrock || ch.Blocks[row][ChunkWidth-1].Type != Bedrock {
			t.Fatalf("row %d edges not bedrock", row)
		}
	}
}

func TestGenerate_BlockInvariants(t *testing.T) {
	ch := Generate(99, 5)
	for row := 0; row < ChunkRows; row++ {
		for x := 0; x < ChunkWidth; x++ {
			b := ch.Blocks[row][x]
			if b.HP < 0 || b.HP > b.MaxHP {
				t.Fatalf("block (%d,%d) hp %d out of [0,%d]", b.X, b.Y, b.HP, b.MaxHP)
			}
			if wantY := ch.Index*ChunkRows + row; b.Y != wantY || b.X != x {
				t.Fatalf("block coords (%d,%d), want (%d,%d)", b.X, b.Y, x, wantY)
			}
		}
	}
}

func TestDamage_Clamp(t *testing.T) {
	cases := []struct {
		hp, dmg, want int
	}{
		{5, 2, 3},
		{5, 5, 0},
		{5, 9, 0},
		{0, 1, 0},
		{3, -2, 3},
	}
	for _, c := range cases {
		if got := Damage(c.hp, c.dmg); got != c.want {
			t.Errorf("Damage(%d,%d)=%d want %d", c.hp, c.dmg, got, c.want)
		}
	}
}

func TestChunkIndexForY(t *testing.T) {
	if ChunkIndexForY(0) != 0 || ChunkIndexForY(ChunkRows-1) != 0 {
		t.Fatalf("rows within first chunk must map to 0")
	}
	if ChunkIndexForY(ChunkRows) != 1 {
		t.Fatalf("first row of second chunk must map to 1")
	}
	if ChunkIndexForY(-4) != 0 {
		t.Fatalf("negative rows clamp to chunk 0")
	}
}
