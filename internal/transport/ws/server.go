// Package ws is the websocket front door: it owns the HELLO handshake,
// schema validation of every inbound frame, and the per-connection
// reader/writer pair. Validated intents are forwarded into the owning
// shard's inbox; gameplay state never lives here.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/shard"
	"deepshard.gg/internal/sim/shardmgr"
)

const (
	readDeadline     = 60 * time.Second
	writeDeadline    = 5 * time.Second
	handshakeTimeout = 5 * time.Second

	// resumeTTL matches the client-side session store: a detached
	// member who does not resume within the TTL is removed for real.
	resumeTTL = 60 * time.Second

	outQueueSize = 64
)

// AuthFunc maps an auth token to a stable player id. The default
// accepts everyone and mints anonymous ids.
type AuthFunc func(token string) (playerID string, ok bool)

type Server struct {
	mgr *shardmgr.Manager
	log *log.Logger
	ctr *Counters

	authFn   AuthFunc
	upgrader websocket.Upgrader

	mu            sync.Mutex
	pendingLeaves map[string]*time.Timer
}

type Options struct {
	Manager  *shardmgr.Manager
	Logger   *log.Logger
	Counters *Counters
	Auth     AuthFunc
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctr := opts.Counters
	if ctr == nil {
		ctr = &Counters{}
	}
	authFn := opts.Auth
	if authFn == nil {
		authFn = defaultAuth
	}
	return &Server{
		mgr:    opts.Manager,
		log:    logger,
		ctr:    ctr,
		authFn: authFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		pendingLeaves: map[string]*time.Timer{},
	}
}

func (s *Server) Counters() *Counters { return s.ctr }

func defaultAuth(token string) (string, bool) {
	if t := strings.TrimSpace(token); t != "" {
		return "P-" + t, true
	}
	return "P-" + uuid.NewString()[:8], true
}

// session is the per-connection state owned by the reader loop.
type session struct {
	playerID string
	name     string
	shard    *shard.Shard
	out      chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.ctr.Connects.Add(1)
		defer s.ctr.Disconnects.Add(1)

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go s.writer(ctx, conn, cancel, sess.out)

		s.readLoop(conn, sess)

		// Socket gone. Keep shard membership alive for the resume
		// window; evict for real only when it expires unclaimed.
		if sess.shard != nil {
			select {
			case sess.shard.Detach() <- sess.playerID:
			case <-sess.shard.Done():
			}
			s.scheduleLeave(sess.playerID, sess.shard)
		}
	}
}

func (s *Server) writer(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-out:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				return
			}
			s.ctr.MessagesOut.Add(1)
		}
	}
}

// handshake expects exactly one HELLO frame and answers with WELCOME.
// A valid resume token re-attaches the socket to its old shard; any
// resume failure falls back to a fresh, unmatched session.
func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	s.ctr.MessagesIn.Add(1)

	if err := protocol.ValidateIntent(msg); err != nil {
		s.closePolicy(conn, "expected HELLO")
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.closePolicy(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}

	sess := &session{
		name: hello.Name,
		out:  make(chan []byte, outQueueSize),
	}

	// Resume path first: the client presents the identity its session
	// store remembers, so auth is the token match inside the shard.
	if hello.ResumeToken != "" && hello.PlayerID != "" && hello.ShardID != "" {
		if resumed, token, joined := s.tryResume(hello, sess.out); resumed {
			sess.playerID = hello.PlayerID
			sess.shard, _ = s.mgr.Shard(hello.ShardID)
			s.cancelLeave(sess.playerID)
			s.ctr.AuthOK.Add(1)
			if !s.writeJSON(conn, protocol.WelcomeMsg{
				Type:        protocol.TypeWelcome,
				PlayerID:    sess.playerID,
				ResumeToken: token,
				Resumed:     true,
				ShardID:     hello.ShardID,
			}) {
				return nil
			}
			if !s.writeJSON(conn, joined) {
				return nil
			}
			return sess
		}
	}

	playerID, ok := s.authFn(hello.AuthToken)
	if !ok {
		s.ctr.AuthFail.Add(1)
		b, _ := json.Marshal(protocol.ErrorMsg{
			Type:    protocol.TypeError,
			Code:    protocol.ErrAuthFailed,
			Message: "authentication failed",
		})
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = conn.WriteMessage(websocket.TextMessage, b)
		return nil
	}
	s.ctr.AuthOK.Add(1)
	sess.playerID = playerID

	if !s.writeJSON(conn, protocol.WelcomeMsg{
		Type:     protocol.TypeWelcome,
		PlayerID: playerID,
	}) {
		return nil
	}
	return sess
}

func (s *Server) tryResume(hello protocol.HelloMsg, out chan []byte) (bool, string, protocol.MatchJoinedMsg) {
	sh, ok := s.mgr.Shard(hello.ShardID)
	if !ok || sh.State() == shard.StateDestroyed {
		return false, "", protocol.MatchJoinedMsg{}
	}
	resp := make(chan shard.AttachResponse, 1)
	select {
	case sh.Attach() <- shard.AttachRequest{
		PlayerID:    hello.PlayerID,
		ResumeToken: hello.ResumeToken,
		Out:         out,
		Resp:        resp,
	}:
	case <-time.After(handshakeTimeout):
		return false, "", protocol.MatchJoinedMsg{}
	}
	select {
	case r := <-resp:
		if !r.OK {
			return false, "", protocol.MatchJoinedMsg{}
		}
		return true, r.ResumeToken, r.Joined
	case <-time.After(handshakeTimeout):
		return false, "", protocol.MatchJoinedMsg{}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.ctr.MessagesIn.Add(1)

		if err := protocol.ValidateIntent(msg); err != nil {
			s.sendError(sess, protocol.ErrProtoBadRequest, "malformed intent")
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			s.sendError(sess, protocol.ErrProtoBadRequest, "malformed intent")
			continue
		}

		switch base.Type {
		case protocol.TypeJoinQuickPlay:
			s.finishMatch(sess, s.mgr.QuickPlay(sess.playerID, sess.name, sess.out))
		case protocol.TypePlaySolo:
			s.finishMatch(sess, s.mgr.Solo(sess.playerID, sess.name, sess.out))
		case protocol.TypeCreateParty:
			var m protocol.CreatePartyMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				s.sendError(sess, protocol.ErrProtoBadRequest, "malformed intent")
				continue
			}
			s.finishMatch(sess, s.mgr.CreateParty(sess.playerID, sess.name, m.MaxPlayers, sess.out))
		case protocol.TypeJoinParty:
			var m protocol.JoinPartyMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				s.sendError(sess, protocol.ErrProtoBadRequest, "malformed intent")
				continue
			}
			s.finishMatch(sess, s.mgr.JoinParty(sess.playerID, sess.name, m.RoomCode, sess.out))
		case protocol.TypeListMatches:
			s.sendEvent(sess, protocol.MatchListMsg{
				Type:    protocol.TypeMatchList,
				Matches: s.mgr.Summaries(),
			})
		case protocol.TypeMove:
			if sess.shard == nil {
				s.sendError(sess, protocol.ErrNotInMatch, "not in a match")
				continue
			}
			var m protocol.MoveMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			s.forwardIntent(sess, shard.IntentEnvelope{PlayerID: sess.playerID, Move: &m})
		case protocol.TypeDig:
			if sess.shard == nil {
				s.sendError(sess, protocol.ErrNotInMatch, "not in a match")
				continue
			}
			var m protocol.DigMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			s.ctr.Digs.Add(1)
			s.forwardIntent(sess, shard.IntentEnvelope{PlayerID: sess.playerID, Dig: &m})
		case protocol.TypeHello:
			s.sendError(sess, protocol.ErrProtoBadRequest, "duplicate hello")
		}
	}
}

// forwardIntent hands a validated intent to the session's shard. A
// torn-down shard never drains its inbox, so the send must not block
// the reader; the session is unbound instead.
func (s *Server) forwardIntent(sess *session, env shard.IntentEnvelope) {
	select {
	case sess.shard.Inbox() <- env:
	case <-sess.shard.Done():
		sess.shard = nil
		s.sendError(sess, protocol.ErrNotInMatch, "match ended")
	}
}

// finishMatch reports the matchmaking outcome and, on success, binds
// the session to its shard and delivers the roster snapshot.
func (s *Server) finishMatch(sess *session, res shardmgr.MatchResult) {
	if sess.shard != nil && res.Success && res.ShardID != sess.shard.ID() {
		// Joined elsewhere; the old membership is abandoned for real.
		select {
		case sess.shard.Leave() <- sess.playerID:
		case <-sess.shard.Done():
		}
		sess.shard = nil
	}
	s.sendEvent(sess, protocol.MatchmakingResultMsg{
		Type:        protocol.TypeMatchmakingResult,
		Success:     res.Success,
		ShardID:     res.ShardID,
		RoomCode:    res.RoomCode,
		ResumeToken: res.ResumeToken,
		Error:       res.Error,
	})
	if !res.Success {
		return
	}
	if sh, ok := s.mgr.Shard(res.ShardID); ok {
		sess.shard = sh
	}
	s.sendEvent(sess, res.Joined)
}

func (s *Server) sendError(sess *session, code, message string) {
	s.ctr.Errors.Add(1)
	s.sendEvent(sess, protocol.ErrorMsg{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
	})
}

// sendEvent queues a frame for the writer, dropping the oldest queued
// frame when the client cannot keep up.
func (s *Server) sendEvent(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for {
		select {
		case sess.out <- b:
			return
		default:
			select {
			case <-sess.out:
			default:
			}
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return false
	}
	s.ctr.MessagesOut.Add(1)
	return true
}

func (s *Server) closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

// scheduleLeave evicts a detached member when the resume window
// expires without a successful re-attach.
func (s *Server) scheduleLeave(playerID string, sh *shard.Shard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.pendingLeaves[playerID]; t != nil {
		t.Stop()
	}
	s.pendingLeaves[playerID] = time.AfterFunc(resumeTTL, func() {
		s.mu.Lock()
		delete(s.pendingLeaves, playerID)
		s.mu.Unlock()
		if sh.State() == shard.StateDestroyed {
			return
		}
		select {
		case sh.Leave() <- playerID:
		case <-sh.Done():
		}
	})
}

func (s *Server) cancelLeave(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.pendingLeaves[playerID]; t != nil {
		t.Stop()
		delete(s.pendingLeaves, playerID)
	}
}
