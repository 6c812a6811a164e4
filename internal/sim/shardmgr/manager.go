// Package shardmgr owns shard lifecycle and matchmaking. The manager
// holds only routing data (id, room code, published metrics); world
// and roster state stay inside each shard's own goroutine and are
// reached exclusively through the shard's channels.
package shardmgr

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"deepshard.gg/internal/persistence/sharddb"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/shard"
	"deepshard.gg/internal/sim/tuning"
)

type Manager struct {
	tune  tuning.Tuning
	store sharddb.Store
	audit shard.AuditSink
	log   *log.Logger

	mu     sync.Mutex
	shards map[string]*shard.Shard

	seedFn func() int64
	codeFn func(int) string
}

type Options struct {
	Tuning tuning.Tuning
	Store  sharddb.Store
	Audit  shard.AuditSink
	Logger *log.Logger

	// SeedFn overrides world-seed allocation; tests pin it.
	SeedFn func() int64
	// CodeFn overrides room-code generation; tests force collisions.
	CodeFn func(length int) string
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	seedFn := opts.SeedFn
	if seedFn == nil {
		seedFn = randomSeed
	}
	codeFn := opts.CodeFn
	if codeFn == nil {
		codeFn = randomRoomCode
	}
	return &Manager{
		tune:   opts.Tuning,
		store:  opts.Store,
		audit:  opts.Audit,
		log:    logger,
		shards: map[string]*shard.Shard{},
		seedFn: seedFn,
		codeFn: codeFn,
	}
}

type CreateOptions struct {
	// WithRoomCode allocates a unique shareable code (party shards).
	WithRoomCode bool
	MaxPlayers   int
}

// CreateShard provisions a shard and starts its loop goroutine.
func (m *Manager) CreateShard(opts CreateOptions) (*shard.Shard, error) {
	maxPlayers := opts.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = m.tune.DefaultMaxPlayers
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	roomCode := ""
	if opts.WithRoomCode {
		code, err := m.generateRoomCodeLocked()
		if err != nil {
			return nil, err
		}
		roomCode = code
	}

	id := "S-" + uuid.NewString()[:8]
	for m.shards[id] != nil {
		id = "S-" + uuid.NewString()[:8]
	}

	s := shard.New(shard.Config{
		ID:         id,
		RoomCode:   roomCode,
		Seed:       m.seedFn(),
		MaxPlayers: maxPlayers,
	}, m.tune, m.store, m.store, m.audit, m.log, m.onShardDestroyed)

	m.shards[id] = s
	go s.Run()

	m.log.Printf("shard %s created (room=%q cap=%d)", id, roomCode, maxPlayers)
	return s, nil
}

// onShardDestroyed runs on the shard goroutine after diffs persist.
func (m *Manager) onShardDestroyed(shardID string) {
	m.mu.Lock()
	delete(m.shards, shardID)
	m.mu.Unlock()

	// The id is never reused, so stored diffs are garbage-collected.
	if err := m.store.DeleteShard(shardID); err != nil {
		m.log.Printf("shard %s: delete stored diffs: %v", shardID, err)
	}
	m.log.Printf("shard %s destroyed", shardID)
}

// FindBestShard returns the Active shard with spare capacity and the
// lowest load, or nil when every shard is full or absent. Room-coded
// shards are private and never returned.
func (m *Manager) FindBestShard() *shard.Shard {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *shard.Shard
	bestLoad := 0
	ids := make([]string, 0, len(m.shards))
	for id := range m.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := m.shards[id]
		if s.State() != shard.StateActive || s.RoomCode() != "" {
			continue
		}
		sm := s.Metrics()
		if sm.Players >= sm.Capacity {
			continue
		}
		if best == nil || sm.Players < bestLoad {
			best = s
			bestLoad = sm.Players
		}
	}
	return best
}

// FindShardByRoomCode looks a shard up by its case-insensitive code.
// An unknown code is an explicit miss, never an error.
func (m *Manager) FindShardByRoomCode(code string) (*shard.Shard, bool) {
	code = normalizeRoomCode(code)
	if code == "" {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shards {
		if s.State() == shard.StateDestroyed {
			continue
		}
		if s.RoomCode() == code {
			return s, true
		}
	}
	return nil, false
}

func (m *Manager) Shard(id string) (*shard.Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[id]
	return s, ok
}

// Summaries lists public shard snapshots for list_matches and the
// health surface. It reads only published metrics.
func (m *Manager) Summaries() []protocol.MatchSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.MatchSummary, 0, len(m.shards))
	for _, s := range m.shards {
		sm := s.Metrics()
		out = append(out, protocol.MatchSummary{
			ShardID:  sm.ShardID,
			RoomCode: sm.RoomCode,
			Players:  sm.Players,
			Capacity: sm.Capacity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out
}

// Counts aggregates shard and player totals for observability.
func (m *Manager) Counts() (shards, players int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shards {
		shards++
		players += s.Metrics().Players
	}
	return shards, players
}

// Shutdown stops every shard and waits for their diffs to persist.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*shard.Shard, 0, len(m.shards))
	for _, s := range m.shards {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
	for _, s := range all {
		<-s.Done()
	}
}

func (m *Manager) generateRoomCodeLocked() (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		code := m.codeFn(m.tune.RoomCodeLength)
		taken := false
		for _, s := range m.shards {
			if s.State() != shard.StateDestroyed && s.RoomCode() == code {
				taken = true
				break
			}
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("room code space exhausted")
}
