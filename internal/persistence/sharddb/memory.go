package sharddb

import "sync"

type chunkKey struct {
	ShardID    string
	ChunkIndex int
}

// Memory is the development stand-in store.
type Memory struct {
	mu      sync.Mutex
	chunks  map[chunkKey]ChunkDiffRecord
	players map[string]PlayerState
}

func NewMemory() *Memory {
	return &Memory{
		chunks:  map[chunkKey]ChunkDiffRecord{},
		players: map[string]PlayerState{},
	}
}

func (m *Memory) SaveChunkDiff(shardID string, rec ChunkDiffRecord) error {
	if len(rec.Modifications) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	cp.Modifications = append([]Modification(nil), rec.Modifications...)
	m.chunks[chunkKey{ShardID: shardID, ChunkIndex: rec.ChunkIndex}] = cp
	return nil
}

func (m *Memory) LoadChunkDiff(shardID string, chunkIndex int) (ChunkDiffRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.chunks[chunkKey{ShardID: shardID, ChunkIndex: chunkIndex}]
	if !ok {
		return ChunkDiffRecord{}, false, nil
	}
	cp := rec
	cp.Modifications = append([]Modification(nil), rec.Modifications...)
	return cp, true, nil
}

func (m *Memory) LoadAllChunkDiffs(shardID string) ([]ChunkDiffRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ChunkDiffRecord
	for k, rec := range m.chunks {
		if k.ShardID != shardID {
			continue
		}
		cp := rec
		cp.Modifications = append([]Modification(nil), rec.Modifications...)
		out = append(out, cp)
	}
	return out, nil
}

func (m *Memory) DeleteShard(shardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.chunks {
		if k.ShardID == shardID {
			delete(m.chunks, k)
		}
	}
	return nil
}

func (m *Memory) LoadPlayer(playerID string) (PlayerState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.players[playerID]
	return st, ok, nil
}

func (m *Memory) SavePlayer(state PlayerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[state.PlayerID] = state
	return nil
}

func (m *Memory) Close() error { return nil }
