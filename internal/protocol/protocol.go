package protocol

import "encoding/json"

const Version = "1.2"

// Client -> server intents.
const (
	TypeHello         = "hello"
	TypeMove          = "move"
	TypeDig           = "dig"
	TypeJoinQuickPlay = "join_quick_play"
	TypeCreateParty   = "create_party"
	TypeJoinParty     = "join_party"
	TypePlaySolo      = "play_solo"
	TypeListMatches   = "list_matches"
)

// Server -> client events.
const (
	TypeWelcome           = "welcome"
	TypeMatchmakingResult = "matchmaking_result"
	TypeMatchJoined       = "match_joined"
	TypeMatchList         = "match_list"
	TypeBlockUpdate       = "block_update"
	TypeBlockDestroyed    = "block_destroyed"
	TypeExplosion         = "explosion"
	TypePlayerStateUpdate = "player_state_update"
	TypeOtherPlayerUpdate = "other_player_update"
	TypePlayerJoined      = "player_joined"
	TypePlayerLeft        = "player_left"
	TypeError             = "error"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
