package shard

import (
	"encoding/json"
	"time"

	auditlog "deepshard.gg/internal/persistence/log"
)

// Run owns every piece of shard state until teardown. Socket I/O is
// decoupled: intents queue on channels and are applied between ticks,
// so two sockets can never interleave mutations mid-update.
func (s *Shard) Run() {
	defer close(s.done)

	s.state.Store(int32(StateActive))
	s.publishMetrics()

	tick := time.NewTicker(time.Second / time.Duration(s.tune.TickRateHz))
	defer tick.Stop()

	// Periodic player-info broadcast, bound to the loop lifetime.
	broadcast := time.NewTicker(time.Duration(s.tune.PlayerBroadcastMs) * time.Millisecond)
	defer broadcast.Stop()

	flush := time.NewTicker(5 * time.Second)
	defer flush.Stop()

	var pending []IntentEnvelope

	for {
		select {
		case <-s.stop:
			s.teardown()
			return
		case req := <-s.join:
			s.handleJoin(req)
		case req := <-s.attach:
			s.handleAttach(req)
		case id := <-s.leave:
			s.handleLeave(id)
			if s.drainIfEmpty() {
				s.teardown()
				return
			}
		case id := <-s.detach:
			s.handleDetach(id)
		case env := <-s.inbox:
			pending = append(pending, env)
		case <-tick.C:
			for _, env := range pending {
				s.applyIntent(env)
			}
			pending = pending[:0]
			if s.drainIfEmpty() {
				s.teardown()
				return
			}
		case <-broadcast.C:
			s.broadcastPlayerInfo()
		case <-flush.C:
			s.flushDiffs()
			s.evictFarChunks()
		}
	}
}

func (s *Shard) applyIntent(env IntentEnvelope) {
	if s.halted {
		return
	}
	p := s.players[env.PlayerID]
	if p == nil {
		return
	}
	p.LastActivity = time.Now()
	switch {
	case env.Move != nil:
		s.handleMove(p, *env.Move)
	case env.Dig != nil:
		s.handleDig(p, *env.Dig)
	}
}

// drainIfEmpty flips an empty Active shard to Draining and reports
// whether the grace period has fully elapsed.
func (s *Shard) drainIfEmpty() bool {
	if len(s.players) > 0 {
		if s.State() == StateDraining {
			s.state.Store(int32(StateActive))
			s.publishMetrics()
		}
		return false
	}
	if s.State() == StateActive {
		s.state.Store(int32(StateDraining))
		s.emptySince = time.Now()
		s.publishMetrics()
	}
	grace := time.Duration(s.tune.DrainGraceSeconds) * time.Second
	return time.Since(s.emptySince) >= grace
}

// teardown persists outstanding diffs and marks the shard destroyed.
func (s *Shard) teardown() {
	for _, p := range s.players {
		s.persistPlayer(p)
	}
	s.flushDiffs()
	s.writeAudit(auditlog.AuditEntry{Kind: auditlog.KindTeardown})
	s.state.Store(int32(StateDestroyed))
	s.publishMetrics()
	if s.onDestroyed != nil {
		s.onDestroyed(s.cfg.ID)
	}
}

// send queues a frame for one client, dropping the oldest frame if
// the client's channel is full rather than blocking the loop.
func (s *Shard) send(playerID string, v any) {
	c := s.clients[playerID]
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("shard %s: marshal %T: %v", s.cfg.ID, v, err)
		return
	}
	sendLatest(c.Out, b)
}

func (s *Shard) broadcastAll(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("shard %s: marshal %T: %v", s.cfg.ID, v, err)
		return
	}
	for _, c := range s.clients {
		sendLatest(c.Out, b)
	}
}

func (s *Shard) broadcastExcept(skipID string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("shard %s: marshal %T: %v", s.cfg.ID, v, err)
		return
	}
	for id, c := range s.clients {
		if id == skipID {
			continue
		}
		sendLatest(c.Out, b)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
