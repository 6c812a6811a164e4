// Package sharddb persists shard state: chunk diffs relative to the
// generated baseline, and per-player progression. The in-memory
// implementation is a development stand-in; production uses the SQLite
// backend behind the same interface.
package sharddb

import (
	"time"

	"deepshard.gg/internal/sim/worldgen"
)

// Modification records one block change. At most one live entry per
// coordinate; later writes win.
type Modification struct {
	X       int                `json:"x"`
	Y       int                `json:"y"`
	NewType worldgen.BlockType `json:"newType"`
	NewHP   int                `json:"newHp"`
}

// ChunkDiffRecord is the persisted diff set for one (shard, chunk).
type ChunkDiffRecord struct {
	ChunkIndex    int            `json:"chunkIndex"`
	WorldSeed     int64          `json:"worldSeed"`
	Modifications []Modification `json:"modifications"`
	SavedAt       time.Time      `json:"savedAt"`
}

// PlayerState is the durable progression record matchmaking loads
// before joining a player to a shard. EquipmentTier is the
// authoritative source for dig damage.
type PlayerState struct {
	PlayerID      string    `json:"playerId"`
	DisplayName   string    `json:"displayName"`
	Gold          int       `json:"gold"`
	BestDepth     int       `json:"bestDepth"`
	EquipmentTier int       `json:"equipmentTier"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ChunkStore interface {
	// SaveChunkDiff overwrites the stored diff set for
	// (shardID, rec.ChunkIndex). Empty modification sets are a no-op.
	// Implementations must never block gameplay on storage I/O; a
	// failed write is logged and retried on the next save cycle.
	SaveChunkDiff(shardID string, rec ChunkDiffRecord) error
	LoadChunkDiff(shardID string, chunkIndex int) (ChunkDiffRecord, bool, error)
	LoadAllChunkDiffs(shardID string) ([]ChunkDiffRecord, error)
	DeleteShard(shardID string) error
}

type PlayerStore interface {
	LoadPlayer(playerID string) (PlayerState, bool, error)
	SavePlayer(state PlayerState) error
}

type Store interface {
	ChunkStore
	PlayerStore
	Close() error
}
