package shard

import (
	"time"

	"deepshard.gg/internal/persistence/sharddb"
	"deepshard.gg/internal/sim/worldgen"
)

// loadChunk returns the chunk holding world row y, generating the
// baseline and replaying stored diffs on first access. The in-memory
// buffer is authoritative over the store record: a buffered diff may
// not have reached the store yet (saves are async and can be shed),
// so stored values never overwrite it.
func (s *Shard) loadChunk(y int) *worldgen.Chunk {
	idx := worldgen.ChunkIndexForY(y)
	if ch, ok := s.chunks[idx]; ok {
		return ch
	}
	ch := worldgen.Generate(s.cfg.Seed, idx)

	buffered := s.mods[idx]
	rec, ok, err := s.store.LoadChunkDiff(s.cfg.ID, idx)
	if err != nil {
		s.log.Printf("shard %s: load chunk %d diffs: %v", s.cfg.ID, idx, err)
	} else if ok {
		for _, m := range rec.Modifications {
			if _, newer := buffered[[2]int{m.X, m.Y}]; newer {
				continue
			}
			s.applyModToChunk(&ch, m)
			s.bufferMod(idx, m)
		}
	}
	for _, m := range buffered {
		s.applyModToChunk(&ch, m)
	}
	s.chunks[idx] = &ch
	s.publishMetrics()
	return &ch
}

func (s *Shard) applyModToChunk(ch *worldgen.Chunk, m sharddb.Modification) {
	row := m.Y - ch.Index*worldgen.ChunkRows
	if row < 0 || row >= worldgen.ChunkRows || m.X < 0 || m.X >= worldgen.ChunkWidth {
		return
	}
	b := &ch.Blocks[row][m.X]
	b.Type = m.NewType
	b.HP = m.NewHP
	if b.MaxHP < m.NewHP {
		b.MaxHP = m.NewHP
	}
}

// bufferMod records a modification for the next flush,
// latest-write-wins per coordinate.
func (s *Shard) bufferMod(chunkIndex int, m sharddb.Modification) {
	byCoord, ok := s.mods[chunkIndex]
	if !ok {
		byCoord = map[[2]int]sharddb.Modification{}
		s.mods[chunkIndex] = byCoord
	}
	byCoord[[2]int{m.X, m.Y}] = m
}

func (s *Shard) blockAt(x, y int) (worldgen.Block, bool) {
	if x < 0 || x >= worldgen.ChunkWidth || y < 0 {
		return worldgen.Block{}, false
	}
	ch := s.loadChunk(y)
	row := y - ch.Index*worldgen.ChunkRows
	return ch.Blocks[row][x], true
}

// setBlock mutates a cell and buffers the diff. hp 0 forces EMPTY in
// the same step; a violation of that pairing halts the shard.
func (s *Shard) setBlock(x, y int, t worldgen.BlockType, hp int) {
	if s.halted {
		return
	}
	if x < 0 || x >= worldgen.ChunkWidth || y < 0 || hp < 0 {
		s.haltf("setBlock out of range: x=%d y=%d hp=%d", x, y, hp)
		return
	}
	if hp == 0 && t != worldgen.Empty && t != worldgen.Bedrock {
		s.haltf("setBlock: hp 0 requires EMPTY, got %s at (%d,%d)", t, x, y)
		return
	}
	ch := s.loadChunk(y)
	row := y - ch.Index*worldgen.ChunkRows
	b := &ch.Blocks[row][x]
	b.Type = t
	b.HP = hp
	if hp > b.MaxHP {
		b.MaxHP = hp
	}
	s.bufferMod(ch.Index, sharddb.Modification{X: x, Y: y, NewType: t, NewHP: hp})
}

// haltf reports a simulation invariant violation loudly and stops all
// further mutation on this shard rather than corrupting persisted
// state.
func (s *Shard) haltf(format string, args ...any) {
	s.halted = true
	s.log.Printf("shard %s: INVARIANT VIOLATION, halting mutations: "+format,
		append([]any{s.cfg.ID}, args...)...)
}

// flushDiffs hands every buffered diff set to the store. Saves are
// asynchronous in the SQLite backend, so the tick never blocks here.
func (s *Shard) flushDiffs() {
	for idx, byCoord := range s.mods {
		if len(byCoord) == 0 {
			continue
		}
		rec := sharddb.ChunkDiffRecord{
			ChunkIndex: idx,
			WorldSeed:  s.cfg.Seed,
			SavedAt:    time.Now(),
		}
		for _, m := range byCoord {
			rec.Modifications = append(rec.Modifications, m)
		}
		if err := s.store.SaveChunkDiff(s.cfg.ID, rec); err != nil {
			// Keep the buffer; retried on the next flush cycle.
			s.log.Printf("shard %s: save chunk %d diffs: %v", s.cfg.ID, idx, err)
		}
	}
}

// evictFarChunks drops loaded chunks more than two chunks away from
// every player, flushing first. Their diffs are already buffered, so
// reloading replays them over a regenerated baseline.
func (s *Shard) evictFarChunks() {
	if len(s.players) == 0 {
		return
	}
	for idx := range s.chunks {
		near := false
		for _, p := range s.players {
			pIdx := worldgen.ChunkIndexForY(int(p.Y))
			if idx >= pIdx-2 && idx <= pIdx+2 {
				near = true
				break
			}
		}
		if !near {
			delete(s.chunks, idx)
		}
	}
	s.publishMetrics()
}
