package ws

import (
	"encoding/json"
	"log"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"deepshard.gg/internal/persistence/sharddb"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/shardmgr"
	"deepshard.gg/internal/sim/tuning"
)

func testServer(t *testing.T) (*shardmgr.Manager, *httptest.Server) {
	t.Helper()
	mgr := shardmgr.New(shardmgr.Options{
		Tuning: tuning.Defaults(),
		Store:  sharddb.NewMemory(),
		Logger: log.New(os.Stderr, "[ws-test] ", 0),
	})
	t.Cleanup(mgr.Shutdown)
	srv := NewServer(Options{Manager: mgr, Logger: log.New(os.Stderr, "[ws-test] ", 0)})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return mgr, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil skips unrelated broadcast frames until one of the wanted
// type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", msgType, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == msgType {
			return msg
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, name string) protocol.WelcomeMsg {
	t.Helper()
	sendJSON(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, Name: name})
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome), &w); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return w
}

func quickPlay(t *testing.T, conn *websocket.Conn) protocol.MatchmakingResultMsg {
	t.Helper()
	sendJSON(t, conn, map[string]any{"type": protocol.TypeJoinQuickPlay})
	var res protocol.MatchmakingResultMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeMatchmakingResult), &res); err != nil {
		t.Fatalf("matchmaking result: %v", err)
	}
	return res
}

func TestHandshakeAndQuickPlay(t *testing.T) {
	_, hs := testServer(t)
	conn := dial(t, hs)

	w := hello(t, conn, "alice")
	if w.PlayerID == "" {
		t.Fatalf("welcome carried no player id")
	}

	res := quickPlay(t, conn)
	if !res.Success || res.ShardID == "" || res.ResumeToken == "" {
		t.Fatalf("quick play: %+v", res)
	}

	var joined protocol.MatchJoinedMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeMatchJoined), &joined); err != nil {
		t.Fatalf("match joined: %v", err)
	}
	if joined.MatchID != res.ShardID || len(joined.Players) != 1 {
		t.Fatalf("roster: %+v", joined)
	}
}

func TestMalformedIntentKeepsConnectionOpen(t *testing.T) {
	_, hs := testServer(t)
	conn := dial(t, hs)
	hello(t, conn, "bob")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dig","x":"no"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code %s", e.Code)
	}

	// Still usable after the rejection.
	if res := quickPlay(t, conn); !res.Success {
		t.Fatalf("quick play after bad frame: %+v", res)
	}
}

func TestDigBeforeMatchIsRejected(t *testing.T) {
	_, hs := testServer(t)
	conn := dial(t, hs)
	hello(t, conn, "carol")

	sendJSON(t, conn, protocol.DigMsg{Type: protocol.TypeDig, X: 3, Y: 2, Seq: 1})
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if e.Code != protocol.ErrNotInMatch {
		t.Fatalf("code %s", e.Code)
	}
}

func TestDigProducesBlockUpdate(t *testing.T) {
	_, hs := testServer(t)
	conn := dial(t, hs)
	hello(t, conn, "dave")
	res := quickPlay(t, conn)
	if !res.Success {
		t.Fatalf("quick play: %+v", res)
	}
	readUntil(t, conn, protocol.TypeMatchJoined)

	sendJSON(t, conn, protocol.DigMsg{Type: protocol.TypeDig, X: 3, Y: 1, Seq: 1})
	var bu protocol.BlockUpdateMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeBlockUpdate), &bu); err != nil {
		t.Fatalf("block update: %v", err)
	}
	if bu.X != 3 || bu.Y != 1 {
		t.Fatalf("update for wrong block: %+v", bu)
	}
}

func TestResumeReattachesWithoutMatchmaking(t *testing.T) {
	_, hs := testServer(t)

	conn := dial(t, hs)
	w := hello(t, conn, "eve")
	res := quickPlay(t, conn)
	if !res.Success {
		t.Fatalf("quick play: %+v", res)
	}
	conn.Close()

	conn2 := dial(t, hs)
	sendJSON(t, conn2, protocol.HelloMsg{
		Type:        protocol.TypeHello,
		Name:        "eve",
		PlayerID:    w.PlayerID,
		ShardID:     res.ShardID,
		ResumeToken: res.ResumeToken,
	})
	var w2 protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn2, protocol.TypeWelcome), &w2); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if !w2.Resumed || w2.ShardID != res.ShardID {
		t.Fatalf("resume: %+v", w2)
	}
	if w2.ResumeToken == "" || w2.ResumeToken == res.ResumeToken {
		t.Fatalf("token did not rotate")
	}

	var joined protocol.MatchJoinedMsg
	if err := json.Unmarshal(readUntil(t, conn2, protocol.TypeMatchJoined), &joined); err != nil {
		t.Fatalf("match joined: %v", err)
	}
	if joined.MatchID != res.ShardID {
		t.Fatalf("resumed into wrong shard: %+v", joined)
	}
}

func TestStaleResumeFallsBackToFreshSession(t *testing.T) {
	_, hs := testServer(t)

	conn := dial(t, hs)
	w := hello(t, conn, "frank")
	res := quickPlay(t, conn)
	if !res.Success {
		t.Fatalf("quick play: %+v", res)
	}

	conn2 := dial(t, hs)
	sendJSON(t, conn2, protocol.HelloMsg{
		Type:        protocol.TypeHello,
		Name:        "frank",
		PlayerID:    w.PlayerID,
		ShardID:     res.ShardID,
		ResumeToken: "not-the-token",
	})
	var w2 protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn2, protocol.TypeWelcome), &w2); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if w2.Resumed {
		t.Fatalf("stale token resumed: %+v", w2)
	}
}

func TestIntentAfterShardTeardownUnbindsSession(t *testing.T) {
	mgr, hs := testServer(t)
	conn := dial(t, hs)
	hello(t, conn, "henry")
	res := quickPlay(t, conn)
	if !res.Success {
		t.Fatalf("quick play: %+v", res)
	}
	readUntil(t, conn, protocol.TypeMatchJoined)

	// Tear the shard down out from under the live session.
	mgr.Shutdown()

	// Well past the inbox capacity: the reader must keep answering
	// instead of wedging on a loop that no longer drains.
	for i := 0; i < 300; i++ {
		sendJSON(t, conn, protocol.DigMsg{Type: protocol.TypeDig, X: 3, Y: 1, Seq: uint64(i)})
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if e.Code != protocol.ErrNotInMatch {
		t.Fatalf("code %s", e.Code)
	}

	sendJSON(t, conn, map[string]any{"type": protocol.TypeListMatches})
	readUntil(t, conn, protocol.TypeMatchList)
}

func TestListMatches(t *testing.T) {
	_, hs := testServer(t)
	conn := dial(t, hs)
	hello(t, conn, "grace")
	res := quickPlay(t, conn)
	if !res.Success {
		t.Fatalf("quick play: %+v", res)
	}
	readUntil(t, conn, protocol.TypeMatchJoined)

	sendJSON(t, conn, map[string]any{"type": protocol.TypeListMatches})
	var list protocol.MatchListMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeMatchList), &list); err != nil {
		t.Fatalf("match list: %v", err)
	}
	if len(list.Matches) != 1 || list.Matches[0].Players != 1 {
		t.Fatalf("list: %+v", list.Matches)
	}
}
