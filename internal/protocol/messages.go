package protocol

// HELLO (client -> server): first frame on every socket. A non-empty
// ResumeToken (with the player and shard it belongs to) asks the
// server to re-attach the socket to an existing shard membership
// instead of running matchmaking again.
type HelloMsg struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	AuthToken   string `json:"auth_token,omitempty"`
	PlayerID    string `json:"player_id,omitempty"`
	ShardID     string `json:"shard_id,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
}

// WELCOME (server -> client).
type WelcomeMsg struct {
	Type        string `json:"type"`
	PlayerID    string `json:"player_id"`
	ResumeToken string `json:"resume_token"`
	Resumed     bool   `json:"resumed,omitempty"`
	ShardID     string `json:"shard_id,omitempty"`
}

type MoveMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type DigMsg struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Seq  uint64 `json:"seq"`
}

type CreatePartyMsg struct {
	Type       string `json:"type"`
	MaxPlayers int    `json:"max_players,omitempty"`
}

type JoinPartyMsg struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
}

type MatchmakingResultMsg struct {
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	ShardID     string `json:"shard_id,omitempty"`
	RoomCode    string `json:"room_code,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
	Error       string `json:"error,omitempty"`
}

type MatchJoinedMsg struct {
	Type    string       `json:"type"`
	MatchID string       `json:"match_id"`
	Seed    int64        `json:"seed"`
	SpawnX  float64      `json:"spawn_x"`
	SpawnY  float64      `json:"spawn_y"`
	Players []PlayerInfo `json:"players"`
}

type PlayerInfo struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type MatchListMsg struct {
	Type    string         `json:"type"`
	Matches []MatchSummary `json:"matches"`
}

type MatchSummary struct {
	ShardID  string `json:"shard_id"`
	RoomCode string `json:"room_code,omitempty"`
	Players  int    `json:"players"`
	Capacity int    `json:"capacity"`
}

// BLOCK_UPDATE (server -> client): authoritative outcome of one dig.
// Clients reconcile pending predictions against this by coordinate.
type BlockUpdateMsg struct {
	Type      string `json:"type"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	NewHP     int    `json:"new_hp"`
	Destroyed bool   `json:"destroyed"`
}

type BlockDestroyedMsg struct {
	Type  string `json:"type"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Actor string `json:"actor"`
	Drop  string `json:"drop,omitempty"`
}

type ExplosionMsg struct {
	Type                 string           `json:"type"`
	OriginX              int              `json:"origin_x"`
	OriginY              int              `json:"origin_y"`
	Phases               []ExplosionPhase `json:"phases"`
	TotalBlocksDestroyed int              `json:"total_blocks_destroyed"`
	TotalGoldPenalty     int              `json:"total_gold_penalty"`
	TotalLaunchDistance  float64          `json:"total_launch_distance"`
	ChainLength          int              `json:"chain_length"`
}

type ExplosionPhase struct {
	CenterX   int      `json:"center_x"`
	CenterY   int      `json:"center_y"`
	Destroyed [][2]int `json:"destroyed"`
	DelayMs   int      `json:"delay_ms"`
}

// PLAYER_STATE_UPDATE (server -> client): full resync of the acting
// player. Receipt clears every pending client prediction.
type PlayerStateUpdateMsg struct {
	Type          string  `json:"type"`
	PlayerID      string  `json:"player_id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Gold          int     `json:"gold"`
	EquipmentTier int     `json:"equipment_tier"`
	BestDepth     int     `json:"best_depth"`
}

type OtherPlayerUpdateMsg struct {
	Type     string  `json:"type"`
	PlayerID string  `json:"player_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type PlayerJoinedMsg struct {
	Type   string     `json:"type"`
	Player PlayerInfo `json:"player"`
}

type PlayerLeftMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
