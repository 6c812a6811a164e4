package shard

import (
	"time"

	"deepshard.gg/internal/persistence/sharddb"
)

// Metrics is a thread-safe read-only snapshot of one shard. The loop
// goroutine publishes it; the manager and HTTP handlers read it.
type Metrics struct {
	ShardID      string `json:"shard_id"`
	RoomCode     string `json:"room_code,omitempty"`
	State        string `json:"state"`
	Players      int    `json:"players"`
	Capacity     int    `json:"capacity"`
	LoadedChunks int    `json:"loaded_chunks"`
}

func (s *Shard) Metrics() Metrics {
	v := s.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

func (s *Shard) publishMetrics() {
	s.metrics.Store(Metrics{
		ShardID:      s.cfg.ID,
		RoomCode:     s.cfg.RoomCode,
		State:        s.State().String(),
		Players:      len(s.players),
		Capacity:     s.cfg.MaxPlayers,
		LoadedChunks: len(s.chunks),
	})
}

func playerStateOf(p *Player) sharddb.PlayerState {
	return sharddb.PlayerState{
		PlayerID:      p.ID,
		DisplayName:   p.Name,
		Gold:          p.Gold,
		BestDepth:     p.BestDepth,
		EquipmentTier: p.EquipmentTier,
		UpdatedAt:     time.Now(),
	}
}
