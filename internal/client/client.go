// Package client is the headless game client: connection lifecycle
// with reconnect backoff, session resumption, outbound intent
// throttling, and optimistic dig prediction. cmd/bot builds on it;
// tests use it to drive a real server end to end.
package client

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"deepshard.gg/internal/protocol"
)

// State is the connection lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// StateChange is published on every transition; Attempt is set while
// reconnecting.
type StateChange struct {
	State   State
	Attempt int
}

type Config struct {
	URL       string
	Name      string
	AuthToken string

	// MaxReconnectAttempts bounds the backoff loop; once exceeded the
	// client lands in StateFailed for good.
	MaxReconnectAttempts int

	Logger *log.Logger
}

type Client struct {
	cfg Config
	log *log.Logger

	sessions *SessionStore
	throttle *Throttle
	rng      *rand.Rand

	states chan StateChange
	events chan []byte

	mu       sync.Mutex
	conn     *websocket.Conn
	playerID string
	shardID  string

	closed    chan struct{}
	closeOnce sync.Once

	// dialFn is swapped out by tests.
	dialFn func(url string, timeout time.Duration) (*websocket.Conn, error)
	// delayFn is swapped out by tests to skip real backoff waits.
	delayFn func(attempt int) time.Duration
}

func New(cfg Config) *Client {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		cfg:      cfg,
		log:      logger,
		sessions: NewSessionStore(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		states:   make(chan StateChange, 32),
		events:   make(chan []byte, 64),
		closed:   make(chan struct{}),
		dialFn:   dialWebsocket,
	}
	c.throttle = NewThrottle(c.writeFrame)
	c.delayFn = func(attempt int) time.Duration { return ReconnectDelay(attempt, c.rng) }
	return c
}

func dialWebsocket(url string, timeout time.Duration) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := d.Dial(url, nil)
	return conn, err
}

// States delivers every lifecycle transition. The channel is buffered;
// a slow consumer loses the oldest transitions, never the newest.
func (c *Client) States() <-chan StateChange { return c.states }

// Events delivers raw server frames (everything after WELCOME).
func (c *Client) Events() <-chan []byte { return c.events }

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) ShardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shardID
}

// Run connects and keeps the connection alive until Close or until the
// reconnect budget runs out. Blocks; callers run it in a goroutine.
func (c *Client) Run() error {
	if err := c.connect(); err != nil {
		if !c.reconnect() {
			return err
		}
	} else {
		c.publish(StateChange{State: StateConnected})
	}

	for {
		err := c.readLoop()
		select {
		case <-c.closed:
			return nil
		default:
		}
		c.log.Printf("connection lost: %v", err)
		c.publish(StateChange{State: StateDisconnected})
		if !c.reconnect() {
			return err
		}
	}
}

// reconnect walks the backoff schedule. Returns false once the client
// gives up (or Close is called mid-wait).
func (c *Client) reconnect() bool {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.publish(StateChange{State: StateReconnecting, Attempt: attempt})
		select {
		case <-c.closed:
			return false
		case <-time.After(c.delayFn(attempt)):
		}
		if err := c.connect(); err != nil {
			c.log.Printf("reconnect attempt %d: %v", attempt, err)
			continue
		}
		c.publish(StateChange{State: StateConnected})
		return true
	}
	c.publish(StateChange{State: StateFailed})
	return false
}

// connect dials, sends HELLO (with the stored session when one is
// still fresh), and waits for WELCOME.
func (c *Client) connect() error {
	conn, err := c.dialFn(c.cfg.URL, connectTimeout)
	if err != nil {
		return err
	}

	hello := protocol.HelloMsg{
		Type:      protocol.TypeHello,
		Name:      c.cfg.Name,
		AuthToken: c.cfg.AuthToken,
	}
	if sess, ok := c.sessions.Load(); ok {
		hello.PlayerID = sess.PlayerID
		hello.ShardID = sess.ShardID
		hello.ResumeToken = sess.ResumeToken
	}
	b, err := json.Marshal(hello)
	if err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(connectTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		conn.Close()
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(connectTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeWelcome {
		conn.Close()
		return errors.New("expected welcome")
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.playerID = w.PlayerID
	if w.Resumed {
		c.shardID = w.ShardID
		c.sessions.Save(Session{
			PlayerID:    w.PlayerID,
			ResumeToken: w.ResumeToken,
			ShardID:     w.ShardID,
		})
	} else {
		c.shardID = ""
		c.sessions.Clear()
	}
	c.mu.Unlock()
	return nil
}

// readLoop pumps server frames until the socket dies. Session-bearing
// frames are captured; everything is forwarded to Events.
func (c *Client) readLoop() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.Type == protocol.TypeMatchmakingResult {
			var res protocol.MatchmakingResultMsg
			if err := json.Unmarshal(msg, &res); err == nil && res.Success {
				c.mu.Lock()
				c.shardID = res.ShardID
				pid := c.playerID
				c.mu.Unlock()
				c.sessions.Save(Session{
					PlayerID:    pid,
					ResumeToken: res.ResumeToken,
					ShardID:     res.ShardID,
				})
			}
		}
		c.forward(msg)
	}
}

func (c *Client) forward(msg []byte) {
	for {
		select {
		case c.events <- msg:
			return
		default:
			select {
			case <-c.events:
			default:
			}
		}
	}
}

func (c *Client) publish(sc StateChange) {
	for {
		select {
		case c.states <- sc:
			return
		default:
			select {
			case <-c.states:
			default:
			}
		}
	}
}

// writeFrame is the throttle's sink.
func (c *Client) writeFrame(b []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.Printf("send: %v", err)
	}
}

func (c *Client) sendIntent(intentType string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.throttle.Offer(intentType, b)
}

func (c *Client) Move(x, y float64) {
	c.sendIntent(protocol.TypeMove, protocol.MoveMsg{Type: protocol.TypeMove, X: x, Y: y})
}

func (c *Client) Dig(x, y int, seq uint64) {
	c.sendIntent(protocol.TypeDig, protocol.DigMsg{Type: protocol.TypeDig, X: x, Y: y, Seq: seq})
}

// Matchmaking intents bypass the throttle: they are one-shot requests,
// not a stream worth coalescing.
func (c *Client) QuickPlay() {
	b, _ := json.Marshal(protocol.BaseMessage{Type: protocol.TypeJoinQuickPlay})
	c.writeFrame(b)
}

func (c *Client) PlaySolo() {
	b, _ := json.Marshal(protocol.BaseMessage{Type: protocol.TypePlaySolo})
	c.writeFrame(b)
}

func (c *Client) CreateParty(maxPlayers int) {
	b, _ := json.Marshal(protocol.CreatePartyMsg{Type: protocol.TypeCreateParty, MaxPlayers: maxPlayers})
	c.writeFrame(b)
}

func (c *Client) JoinParty(roomCode string) {
	b, _ := json.Marshal(protocol.JoinPartyMsg{Type: protocol.TypeJoinParty, RoomCode: roomCode})
	c.writeFrame(b)
}

func (c *Client) ListMatches() {
	b, _ := json.Marshal(protocol.BaseMessage{Type: protocol.TypeListMatches})
	c.writeFrame(b)
}

// Close is the deliberate shutdown: reconnect timers die with it and
// no further states are published.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.throttle.Close()
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}
