package shardmgr

import (
	"time"

	"deepshard.gg/internal/persistence/sharddb"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/shard"
)

// MatchResult is the structured outcome of a matchmaking flow.
// Expected failures (unknown room, full room) are values, never
// panics or errors.
type MatchResult struct {
	Success  bool
	ShardID  string
	RoomCode string
	Error    string

	// Session material for the transport on success.
	ResumeToken string
	Joined      protocol.MatchJoinedMsg
}

// joinTimeout bounds both the hand-off to a shard loop and its reply.
// A variable so tests can shorten it.
var joinTimeout = 5 * time.Second

// QuickPlay routes a player into the least-loaded open shard,
// creating one when none has room.
func (m *Manager) QuickPlay(playerID, name string, out chan []byte) MatchResult {
	st, err := m.loadOrCreatePlayer(playerID, name)
	if err != nil {
		return MatchResult{Error: "Internal error"}
	}
	// A concurrent join can fill the chosen shard between the lookup
	// and the join; retry against a fresh pick before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		s := m.FindBestShard()
		if s == nil {
			created, err := m.CreateShard(CreateOptions{})
			if err != nil {
				return MatchResult{Error: "Internal error"}
			}
			s = created
		}
		if res, ok := m.joinShard(s, st, out); ok {
			return res
		}
	}
	return MatchResult{Error: "No open match"}
}

// CreateParty provisions a private room-coded shard.
func (m *Manager) CreateParty(playerID, name string, maxPlayers int, out chan []byte) MatchResult {
	st, err := m.loadOrCreatePlayer(playerID, name)
	if err != nil {
		return MatchResult{Error: "Internal error"}
	}
	if maxPlayers <= 0 || maxPlayers > m.tune.PartyMaxPlayers {
		maxPlayers = m.tune.PartyMaxPlayers
	}
	s, err := m.CreateShard(CreateOptions{WithRoomCode: true, MaxPlayers: maxPlayers})
	if err != nil {
		return MatchResult{Error: "Internal error"}
	}
	res, _ := m.joinShard(s, st, out)
	return res
}

// JoinParty joins an existing room by code.
func (m *Manager) JoinParty(playerID, name, roomCode string, out chan []byte) MatchResult {
	st, err := m.loadOrCreatePlayer(playerID, name)
	if err != nil {
		return MatchResult{Error: "Internal error"}
	}
	s, ok := m.FindShardByRoomCode(roomCode)
	if !ok {
		return MatchResult{Error: "Room not found"}
	}
	res, _ := m.joinShard(s, st, out)
	return res
}

// Solo creates a single-player shard.
func (m *Manager) Solo(playerID, name string, out chan []byte) MatchResult {
	st, err := m.loadOrCreatePlayer(playerID, name)
	if err != nil {
		return MatchResult{Error: "Internal error"}
	}
	s, err := m.CreateShard(CreateOptions{MaxPlayers: 1})
	if err != nil {
		return MatchResult{Error: "Internal error"}
	}
	res, _ := m.joinShard(s, st, out)
	return res
}

func (m *Manager) joinShard(s *shard.Shard, st sharddb.PlayerState, out chan []byte) (MatchResult, bool) {
	resp := make(chan shard.JoinResponse, 1)
	select {
	case s.Join() <- shard.JoinRequest{State: st, Out: out, Resp: resp}:
	case <-time.After(joinTimeout):
		return MatchResult{Error: "Internal error"}, false
	}
	select {
	case r := <-resp:
		if !r.OK {
			return MatchResult{Error: r.ErrReason}, false
		}
		return MatchResult{
			Success:     true,
			ShardID:     s.ID(),
			RoomCode:    s.RoomCode(),
			ResumeToken: r.ResumeToken,
			Joined:      r.Joined,
		}, true
	case <-time.After(joinTimeout):
		return MatchResult{Error: "Internal error"}, false
	}
}

func (m *Manager) loadOrCreatePlayer(playerID, name string) (sharddb.PlayerState, error) {
	st, ok, err := m.store.LoadPlayer(playerID)
	if err != nil {
		return sharddb.PlayerState{}, err
	}
	if !ok {
		st = sharddb.PlayerState{
			PlayerID:    playerID,
			DisplayName: name,
			UpdatedAt:   time.Now(),
		}
		if err := m.store.SavePlayer(st); err != nil {
			return sharddb.PlayerState{}, err
		}
	}
	if name != "" && st.DisplayName != name {
		st.DisplayName = name
	}
	return st, nil
}
