package client

import (
	"encoding/json"
	"errors"
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
	"deepshard.gg/internal/transport/ws"
)

func nextState(t *testing.T, c *Client) StateChange {
	t.Helper()
	select {
	case sc := <-c.States():
		return sc
	case <-time.After(5 * time.Second):
		t.Fatalf("no state transition")
		return StateChange{}
	}
}

func TestRun_ExhaustsReconnectBudgetThenFails(t *testing.T) {
	c := New(Config{
		URL:                  "ws://127.0.0.1:1/v1/ws",
		Name:                 "ghost",
		MaxReconnectAttempts: 3,
		Logger:               log.New(os.Stderr, "[client-test] ", 0),
	})
	c.dialFn = func(string, time.Duration) (*websocket.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c.delayFn = func(int) time.Duration { return time.Millisecond }

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run() }()

	for want := 1; want <= 3; want++ {
		sc := nextState(t, c)
		if sc.State != StateReconnecting || sc.Attempt != want {
			t.Fatalf("state %v attempt %d, want RECONNECTING %d", sc.State, sc.Attempt, want)
		}
	}
	if sc := nextState(t, c); sc.State != StateFailed {
		t.Fatalf("state %v, want FAILED", sc.State)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("Run returned nil after failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
}

func TestClose_CancelsReconnectWait(t *testing.T) {
	c := New(Config{
		URL:                  "ws://127.0.0.1:1/v1/ws",
		MaxReconnectAttempts: 5,
		Logger:               log.New(os.Stderr, "[client-test] ", 0),
	})
	c.dialFn = func(string, time.Duration) (*websocket.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c.delayFn = func(int) time.Duration { return time.Hour }

	done := make(chan struct{})
	go func() { c.Run(); close(done) }()

	if sc := nextState(t, c); sc.State != StateReconnecting {
		t.Fatalf("state %v", sc.State)
	}
	c.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run hung after Close")
	}
}

func startGameServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := log.New(os.Stderr, "[client-e2e] ", 0)
	mgr := shardmgr.New(shardmgr.Options{
		Tuning: tuning.Defaults(),
		Store:  sharddb.NewMemory(),
		Logger: logger,
	})
	t.Cleanup(mgr.Shutdown)
	srv := ws.NewServer(ws.Options{Manager: mgr, Logger: logger})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return hs
}

func waitEvent(t *testing.T, c *Client, msgType string) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-c.Events():
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s event", msgType)
		}
	}
}

func TestRun_ResumesSessionAfterDrop(t *testing.T) {
	hs := startGameServer(t)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	c := New(Config{
		URL:                  url,
		Name:                 "miner",
		MaxReconnectAttempts: 5,
		Logger:               log.New(os.Stderr, "[client-e2e] ", 0),
	})
	c.delayFn = func(int) time.Duration { return 10 * time.Millisecond }
	defer c.Close()
	go c.Run()

	if sc := nextState(t, c); sc.State != StateConnected {
		t.Fatalf("state %v", sc.State)
	}

	c.QuickPlay()
	var res protocol.MatchmakingResultMsg
	if err := json.Unmarshal(waitEvent(t, c, protocol.TypeMatchmakingResult), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.Success {
		t.Fatalf("quick play: %+v", res)
	}
	waitEvent(t, c, protocol.TypeMatchJoined)

	// Kill the socket out from under the client.
	c.mu.Lock()
	c.conn.Close()
	c.mu.Unlock()

	if sc := nextState(t, c); sc.State != StateDisconnected {
		t.Fatalf("state %v, want DISCONNECTED", sc.State)
	}
	if sc := nextState(t, c); sc.State != StateReconnecting {
		t.Fatalf("state %v, want RECONNECTING", sc.State)
	}
	if sc := nextState(t, c); sc.State != StateConnected {
		t.Fatalf("state %v, want CONNECTED", sc.State)
	}

	// Resumed straight back into the same shard, no matchmaking.
	var joined protocol.MatchJoinedMsg
	if err := json.Unmarshal(waitEvent(t, c, protocol.TypeMatchJoined), &joined); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if joined.MatchID != res.ShardID {
		t.Fatalf("resumed into %s, was in %s", joined.MatchID, res.ShardID)
	}
	if c.ShardID() != res.ShardID {
		t.Fatalf("client shard %s", c.ShardID())
	}
}
