package shard

import (
	auditlog "deepshard.gg/internal/persistence/log"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/worldgen"
)

func (s *Shard) handleMove(p *Player, m protocol.MoveMsg) {
	if s.halted {
		return
	}
	if m.X < 0 || m.X >= float64(worldgen.ChunkWidth) || m.Y < 0 {
		s.send(p.ID, protocol.ErrorMsg{
			Type:    protocol.TypeError,
			Code:    protocol.ErrInvalidTarget,
			Message: "position out of bounds",
		})
		return
	}
	p.X, p.Y = m.X, m.Y
	if depth := int(m.Y); depth > p.BestDepth {
		p.BestDepth = depth
	}
	s.broadcastExcept(p.ID, protocol.OtherPlayerUpdateMsg{
		Type:     protocol.TypeOtherPlayerUpdate,
		PlayerID: p.ID,
		X:        p.X,
		Y:        p.Y,
	})
}

// handleDig applies one authoritative dig. Damage comes from the
// player's persisted equipment tier. The resulting block_update is
// what clients reconcile their optimistic predictions against.
func (s *Shard) handleDig(p *Player, m protocol.DigMsg) {
	if s.halted {
		return
	}
	b, ok := s.blockAt(m.X, m.Y)
	if !ok {
		s.send(p.ID, protocol.ErrorMsg{
			Type:    protocol.TypeError,
			Code:    protocol.ErrInvalidTarget,
			Message: "block out of bounds",
		})
		return
	}
	s.writeAudit(auditlog.AuditEntry{Kind: auditlog.KindDig, Player: p.ID, X: m.X, Y: m.Y})

	// Digging air or bedrock changes nothing; the authoritative state
	// is still echoed so a mispredicting client snaps back.
	if !worldgen.Destructible(b.Type) {
		s.send(p.ID, protocol.BlockUpdateMsg{
			Type:      protocol.TypeBlockUpdate,
			X:         m.X,
			Y:         m.Y,
			NewHP:     b.HP,
			Destroyed: b.Type == worldgen.Empty,
		})
		return
	}

	damage := s.tune.DamageForTier(p.EquipmentTier)
	newHP := worldgen.Damage(b.HP, damage)

	if newHP > 0 {
		s.setBlock(m.X, m.Y, b.Type, newHP)
		s.broadcastAll(protocol.BlockUpdateMsg{
			Type:  protocol.TypeBlockUpdate,
			X:     m.X,
			Y:     m.Y,
			NewHP: newHP,
		})
		return
	}

	// Destroyed: hp 0 and EMPTY in the same atomic step.
	if b.Type == worldgen.TNT {
		s.detonate(p, Coord{X: m.X, Y: m.Y})
		return
	}
	s.destroyBlock(p, m.X, m.Y, b.Type)
	s.sendPlayerState(p)
}

func (s *Shard) destroyBlock(p *Player, x, y int, t worldgen.BlockType) {
	s.setBlock(x, y, worldgen.Empty, 0)
	p.Gold += goldValue(t)
	s.broadcastAll(protocol.BlockUpdateMsg{
		Type:      protocol.TypeBlockUpdate,
		X:         x,
		Y:         y,
		NewHP:     0,
		Destroyed: true,
	})
	s.broadcastAll(protocol.BlockDestroyedMsg{
		Type:  protocol.TypeBlockDestroyed,
		X:     x,
		Y:     y,
		Actor: p.ID,
		Drop:  dropFor(t),
	})
	s.writeAudit(auditlog.AuditEntry{Kind: auditlog.KindDestroy, Player: p.ID, X: x, Y: y, Detail: string(t)})
}

// detonate resolves the chain, applies every destruction to the block
// map, and charges the triggering player the aggregate penalty.
func (s *Shard) detonate(p *Player, origin Coord) {
	res := ResolveExplosion(shardBlocks{s}, origin, s.tune.Explosion)
	if res.ChainLength == 0 {
		return
	}

	msg := protocol.ExplosionMsg{
		Type:                 protocol.TypeExplosion,
		OriginX:              origin.X,
		OriginY:              origin.Y,
		TotalBlocksDestroyed: res.TotalBlocksDestroyed,
		TotalGoldPenalty:     res.TotalGoldPenalty,
		TotalLaunchDistance:  res.TotalLaunchDistance,
		ChainLength:          res.ChainLength,
	}
	for _, ph := range res.Phases {
		wp := protocol.ExplosionPhase{
			CenterX: ph.Center.X,
			CenterY: ph.Center.Y,
			DelayMs: ph.DelayMs,
		}
		for _, c := range ph.Destroyed {
			s.setBlock(c.X, c.Y, worldgen.Empty, 0)
			wp.Destroyed = append(wp.Destroyed, [2]int{c.X, c.Y})
		}
		msg.Phases = append(msg.Phases, wp)
	}

	p.Gold -= res.TotalGoldPenalty
	if p.Gold < 0 {
		p.Gold = 0
	}

	s.broadcastAll(msg)
	s.sendPlayerState(p)
	s.writeAudit(auditlog.AuditEntry{
		Kind:   auditlog.KindExplosion,
		Player: p.ID,
		X:      origin.X,
		Y:      origin.Y,
	})
}

// shardBlocks adapts the shard's loaded chunks to the resolver's
// read-only view.
type shardBlocks struct{ s *Shard }

func (v shardBlocks) BlockAt(x, y int) (worldgen.Block, bool) {
	return v.s.blockAt(x, y)
}

func goldValue(t worldgen.BlockType) int {
	switch t {
	case worldgen.Gold:
		return 10
	case worldgen.Diamond:
		return 25
	default:
		return 0
	}
}

func dropFor(t worldgen.BlockType) string {
	switch t {
	case worldgen.Gold:
		return "gold_nugget"
	case worldgen.Diamond:
		return "diamond"
	default:
		return ""
	}
}
