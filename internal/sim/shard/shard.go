// Package shard implements one authoritative game-world instance. A
// shard owns its block map and player roster exclusively: all state is
// mutated only from the shard's own loop goroutine, fed by channels.
package shard

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	auditlog "deepshard.gg/internal/persistence/log"
	"deepshard.gg/internal/persistence/sharddb"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/tuning"
	"deepshard.gg/internal/sim/worldgen"
)

// State is the shard lifecycle phase.
type State int32

const (
	StateProvisioning State = iota
	StateActive
	StateDraining
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "PROVISIONING"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateDestroyed:
		return "DESTROYED"
	}
	return "UNKNOWN"
}

type Config struct {
	ID         string
	RoomCode   string
	Seed       int64
	MaxPlayers int
}

// AuditSink receives gameplay audit entries; nil sinks are allowed.
type AuditSink interface {
	WriteAudit(auditlog.AuditEntry) error
}

type Player struct {
	ID            string
	Name          string
	X, Y          float64
	Gold          int
	BestDepth     int
	EquipmentTier int
	ResumeToken   string
	LastActivity  time.Time
}

type clientState struct {
	Out chan []byte
}

// JoinRequest is processed on the shard goroutine, making the
// capacity check-then-act race-free without locks.
type JoinRequest struct {
	State sharddb.PlayerState
	Resp  chan JoinResponse
	Out   chan []byte
}

type JoinResponse struct {
	OK          bool
	ErrCode     string
	ErrReason   string
	ResumeToken string
	Joined      protocol.MatchJoinedMsg
}

// AttachRequest re-binds a reconnecting socket to an existing member.
type AttachRequest struct {
	PlayerID    string
	ResumeToken string
	Out         chan []byte
	Resp        chan AttachResponse
}

type AttachResponse struct {
	OK          bool
	ResumeToken string
	Joined      protocol.MatchJoinedMsg
}

// IntentEnvelope carries one validated client intent into the loop.
type IntentEnvelope struct {
	PlayerID string
	Move     *protocol.MoveMsg
	Dig      *protocol.DigMsg
}

type Shard struct {
	cfg  Config
	tune tuning.Tuning

	store  sharddb.ChunkStore
	pstore sharddb.PlayerStore
	audit  AuditSink
	log    *log.Logger

	state atomic.Int32

	// Loop-owned state. Never touched from outside the loop goroutine.
	chunks  map[int]*worldgen.Chunk
	mods    map[int]map[[2]int]sharddb.Modification
	players map[string]*Player
	clients map[string]*clientState
	halted  bool

	inbox  chan IntentEnvelope
	join   chan JoinRequest
	attach chan AttachRequest
	leave  chan string
	detach chan string
	stop   chan struct{}
	done   chan struct{}

	emptySince time.Time

	metrics atomic.Value // Metrics

	// onDestroyed is invoked once, after all diffs are persisted.
	onDestroyed func(shardID string)
}

func New(cfg Config, tune tuning.Tuning, store sharddb.ChunkStore, pstore sharddb.PlayerStore, audit AuditSink, logger *log.Logger, onDestroyed func(string)) *Shard {
	if logger == nil {
		logger = log.Default()
	}
	s := &Shard{
		cfg:         cfg,
		tune:        tune,
		store:       store,
		pstore:      pstore,
		audit:       audit,
		log:         logger,
		chunks:      map[int]*worldgen.Chunk{},
		mods:        map[int]map[[2]int]sharddb.Modification{},
		players:     map[string]*Player{},
		clients:     map[string]*clientState{},
		inbox:       make(chan IntentEnvelope, 256),
		join:        make(chan JoinRequest, 8),
		attach:      make(chan AttachRequest, 8),
		leave:       make(chan string, 8),
		detach:      make(chan string, 8),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		emptySince:  time.Now(),
		onDestroyed: onDestroyed,
	}
	s.state.Store(int32(StateProvisioning))
	s.publishMetrics()
	return s
}

func (s *Shard) ID() string       { return s.cfg.ID }
func (s *Shard) RoomCode() string { return s.cfg.RoomCode }
func (s *Shard) Seed() int64      { return s.cfg.Seed }
func (s *Shard) MaxPlayers() int  { return s.cfg.MaxPlayers }

func (s *Shard) State() State { return State(s.state.Load()) }

func (s *Shard) Inbox() chan<- IntentEnvelope { return s.inbox }
func (s *Shard) Join() chan<- JoinRequest     { return s.join }
func (s *Shard) Attach() chan<- AttachRequest { return s.attach }
func (s *Shard) Leave() chan<- string         { return s.leave }
func (s *Shard) Detach() chan<- string        { return s.detach }

// Stop asks the loop to tear down; Done closes after diffs persist.
func (s *Shard) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *Shard) Done() <-chan struct{} { return s.done }

func newResumeToken() string { return uuid.NewString() }

func (s *Shard) writeAudit(e auditlog.AuditEntry) {
	if s.audit == nil {
		return
	}
	e.ShardID = s.cfg.ID
	if err := s.audit.WriteAudit(e); err != nil {
		s.log.Printf("shard %s: audit write: %v", s.cfg.ID, err)
	}
}
