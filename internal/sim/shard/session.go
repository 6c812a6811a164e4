package shard

import (
	"time"

	auditlog "deepshard.gg/internal/persistence/log"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/worldgen"
)

// handleJoin admits a player if capacity allows. Running on the loop
// goroutine makes the capacity check atomic with the insert: two
// concurrent joins can never both slip past MaxPlayers.
func (s *Shard) handleJoin(req JoinRequest) {
	if len(s.players) >= s.cfg.MaxPlayers {
		req.Resp <- JoinResponse{OK: false, ErrCode: protocol.ErrRoomFull, ErrReason: "Room is full"}
		return
	}

	st := req.State
	p := &Player{
		ID:            st.PlayerID,
		Name:          st.DisplayName,
		Gold:          st.Gold,
		BestDepth:     st.BestDepth,
		EquipmentTier: st.EquipmentTier,
		ResumeToken:   newResumeToken(),
		LastActivity:  time.Now(),
	}
	p.X, p.Y = s.spawnPoint(len(s.players))

	s.players[p.ID] = p
	if req.Out != nil {
		s.clients[p.ID] = &clientState{Out: req.Out}
	}
	s.publishMetrics()
	s.writeAudit(auditlog.AuditEntry{Kind: auditlog.KindJoin, Player: p.ID})

	s.broadcastExcept(p.ID, protocol.PlayerJoinedMsg{
		Type:   protocol.TypePlayerJoined,
		Player: playerInfo(p),
	})

	req.Resp <- JoinResponse{
		OK:          true,
		ResumeToken: p.ResumeToken,
		Joined:      s.matchJoined(p),
	}
}

// handleAttach re-binds a reconnecting socket to an existing member.
// The token rotates on every successful resume.
func (s *Shard) handleAttach(req AttachRequest) {
	p := s.players[req.PlayerID]
	if p == nil || req.ResumeToken == "" || p.ResumeToken != req.ResumeToken {
		req.Resp <- AttachResponse{}
		return
	}
	if req.Out != nil {
		s.clients[p.ID] = &clientState{Out: req.Out}
	}
	p.ResumeToken = newResumeToken()
	p.LastActivity = time.Now()
	s.publishMetrics()
	s.writeAudit(auditlog.AuditEntry{Kind: auditlog.KindResume, Player: p.ID})

	req.Resp <- AttachResponse{
		OK:          true,
		ResumeToken: p.ResumeToken,
		Joined:      s.matchJoined(p),
	}
}

func (s *Shard) handleLeave(playerID string) {
	p := s.players[playerID]
	if p == nil {
		return
	}
	delete(s.players, playerID)
	delete(s.clients, playerID)
	s.persistPlayer(p)
	s.publishMetrics()
	s.writeAudit(auditlog.AuditEntry{Kind: auditlog.KindLeave, Player: playerID})

	s.broadcastAll(protocol.PlayerLeftMsg{
		Type:     protocol.TypePlayerLeft,
		PlayerID: playerID,
	})
}

// Detach drops only the socket, keeping shard membership so a resume
// within the session TTL can re-attach without matchmaking.
func (s *Shard) handleDetach(playerID string) {
	delete(s.clients, playerID)
	s.publishMetrics()
}

func (s *Shard) persistPlayer(p *Player) {
	if s.pstore == nil {
		return
	}
	err := s.pstore.SavePlayer(playerStateOf(p))
	if err != nil {
		s.log.Printf("shard %s: save player %s: %v", s.cfg.ID, p.ID, err)
	}
}

func (s *Shard) matchJoined(p *Player) protocol.MatchJoinedMsg {
	msg := protocol.MatchJoinedMsg{
		Type:    protocol.TypeMatchJoined,
		MatchID: s.cfg.ID,
		Seed:    s.cfg.Seed,
		SpawnX:  p.X,
		SpawnY:  p.Y,
	}
	for _, other := range s.players {
		msg.Players = append(msg.Players, playerInfo(other))
	}
	return msg
}

func (s *Shard) spawnPoint(n int) (float64, float64) {
	// Spread spawns across the sky row, away from the bedrock edges.
	usable := worldgen.ChunkWidth - 2
	x := 1 + (n*5)%usable
	return float64(x), 0
}

func (s *Shard) broadcastPlayerInfo() {
	for _, p := range s.players {
		s.broadcastExcept(p.ID, protocol.OtherPlayerUpdateMsg{
			Type:     protocol.TypeOtherPlayerUpdate,
			PlayerID: p.ID,
			X:        p.X,
			Y:        p.Y,
		})
	}
}

// sendPlayerState pushes a full resync to one player. Clients clear
// all pending predictions on receipt.
func (s *Shard) sendPlayerState(p *Player) {
	s.send(p.ID, protocol.PlayerStateUpdateMsg{
		Type:          protocol.TypePlayerStateUpdate,
		PlayerID:      p.ID,
		X:             p.X,
		Y:             p.Y,
		Gold:          p.Gold,
		EquipmentTier: p.EquipmentTier,
		BestDepth:     p.BestDepth,
	})
}

func playerInfo(p *Player) protocol.PlayerInfo {
	return protocol.PlayerInfo{
		PlayerID: p.ID,
		Name:     p.Name,
		X:        p.X,
		Y:        p.Y,
	}
}
