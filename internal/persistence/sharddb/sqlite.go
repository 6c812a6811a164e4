package sharddb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the durable backend. Chunk-diff and player writes go
// through a single writer goroutine fed by a buffered channel, so the
// shard simulation tick never blocks on storage I/O. A failed write is
// logged, kept, and retried before the next write is applied.
type SQLite struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqChunkDiff reqKind = iota + 1
	reqPlayer
	reqDeleteShard
	reqFlush
)

type req struct {
	kind reqKind

	shardID   string
	chunk     ChunkDiffRecord
	player    PlayerState
	flushDone chan struct{}
}

func OpenSQLite(path string, logger *log.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{
		db:  db,
		log: logger,
		// Buffered: eviction flushes are bursty when a shard drains.
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style diff workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunk_diffs (
			shard_id    TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			world_seed  INTEGER NOT NULL,
			mods_json   TEXT NOT NULL,
			saved_at    TEXT NOT NULL,
			PRIMARY KEY (shard_id, chunk_index)
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			player_id      TEXT PRIMARY KEY,
			display_name   TEXT NOT NULL,
			gold           INTEGER NOT NULL,
			best_depth     INTEGER NOT NULL,
			equipment_tier INTEGER NOT NULL,
			updated_at     TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) loop() {
	// Writes that failed are retried ahead of the next request.
	var failed []req
	for r := range s.ch {
		if r.kind == reqFlush {
			close(r.flushDone)
			continue
		}
		if len(failed) > 0 {
			still := failed[:0]
			for _, f := range failed {
				if err := s.apply(f); err != nil {
					still = append(still, f)
				}
			}
			failed = still
		}
		if err := s.apply(r); err != nil {
			s.log.Printf("sharddb: write failed (will retry): %v", err)
			if len(failed) < 1024 {
				failed = append(failed, r)
			}
		}
	}
	// Drain retries on shutdown; bounded data loss is acceptable.
	for _, f := range failed {
		if err := s.apply(f); err != nil {
			s.log.Printf("sharddb: dropping unsaved write on close: %v", err)
		}
	}
}

func (s *SQLite) apply(r req) error {
	switch r.kind {
	case reqChunkDiff:
		mods, err := json.Marshal(r.chunk.Modifications)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(
			`INSERT INTO chunk_diffs (shard_id, chunk_index, world_seed, mods_json, saved_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(shard_id, chunk_index) DO UPDATE SET
			   world_seed=excluded.world_seed,
			   mods_json=excluded.mods_json,
			   saved_at=excluded.saved_at;`,
			r.shardID, r.chunk.ChunkIndex, r.chunk.WorldSeed, string(mods),
			r.chunk.SavedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	case reqPlayer:
		_, err := s.db.Exec(
			`INSERT INTO players (player_id, display_name, gold, best_depth, equipment_tier, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(player_id) DO UPDATE SET
			   display_name=excluded.display_name,
			   gold=excluded.gold,
			   best_depth=excluded.best_depth,
			   equipment_tier=excluded.equipment_tier,
			   updated_at=excluded.updated_at;`,
			r.player.PlayerID, r.player.DisplayName, r.player.Gold,
			r.player.BestDepth, r.player.EquipmentTier,
			r.player.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	case reqDeleteShard:
		_, err := s.db.Exec(`DELETE FROM chunk_diffs WHERE shard_id = ?;`, r.shardID)
		return err
	}
	return fmt.Errorf("unknown request kind %d", r.kind)
}

func (s *SQLite) enqueue(r req) error {
	if s.closed.Load() {
		return fmt.Errorf("sharddb: closed")
	}
	select {
	case s.ch <- r:
		return nil
	default:
		// Queue saturated: shed the write rather than stall a tick.
		s.log.Printf("sharddb: queue full, dropping write kind=%d shard=%s", r.kind, r.shardID)
		return nil
	}
}

func (s *SQLite) SaveChunkDiff(shardID string, rec ChunkDiffRecord) error {
	if len(rec.Modifications) == 0 {
		return nil
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	rec.Modifications = append([]Modification(nil), rec.Modifications...)
	return s.enqueue(req{kind: reqChunkDiff, shardID: shardID, chunk: rec})
}

func (s *SQLite) LoadChunkDiff(shardID string, chunkIndex int) (ChunkDiffRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT world_seed, mods_json, saved_at FROM chunk_diffs
		 WHERE shard_id = ? AND chunk_index = ?;`, shardID, chunkIndex)
	var rec ChunkDiffRecord
	var modsJSON, savedAt string
	rec.ChunkIndex = chunkIndex
	if err := row.Scan(&rec.WorldSeed, &modsJSON, &savedAt); err != nil {
		if err == sql.ErrNoRows {
			return ChunkDiffRecord{}, false, nil
		}
		return ChunkDiffRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(modsJSON), &rec.Modifications); err != nil {
		return ChunkDiffRecord{}, false, err
	}
	if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
		rec.SavedAt = t
	}
	return rec, true, nil
}

func (s *SQLite) LoadAllChunkDiffs(shardID string) ([]ChunkDiffRecord, error) {
	rows, err := s.db.Query(
		`SELECT chunk_index, world_seed, mods_json, saved_at FROM chunk_diffs
		 WHERE shard_id = ? ORDER BY chunk_index;`, shardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkDiffRecord
	for rows.Next() {
		var rec ChunkDiffRecord
		var modsJSON, savedAt string
		if err := rows.Scan(&rec.ChunkIndex, &rec.WorldSeed, &modsJSON, &savedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(modsJSON), &rec.Modifications); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			rec.SavedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteShard(shardID string) error {
	return s.enqueue(req{kind: reqDeleteShard, shardID: shardID})
}

func (s *SQLite) LoadPlayer(playerID string) (PlayerState, bool, error) {
	row := s.db.QueryRow(
		`SELECT player_id, display_name, gold, best_depth, equipment_tier, updated_at
		 FROM players WHERE player_id = ?;`, playerID)
	var st PlayerState
	var updatedAt string
	if err := row.Scan(&st.PlayerID, &st.DisplayName, &st.Gold, &st.BestDepth, &st.EquipmentTier, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return PlayerState{}, false, nil
		}
		return PlayerState{}, false, err
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		st.UpdatedAt = t
	}
	return st, true, nil
}

func (s *SQLite) SavePlayer(state PlayerState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	return s.enqueue(req{kind: reqPlayer, shardID: state.PlayerID, player: state})
}

// Flush blocks until every write queued before the call is applied.
// Tests and shard teardown use it; the simulation tick never does.
func (s *SQLite) Flush() {
	if s.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushDone: done}:
		<-done
	default:
		// Saturated; nothing deterministic to wait for.
	}
}

func (s *SQLite) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
	s.wg.Wait()
	return s.db.Close()
}
