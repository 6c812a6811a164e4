package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"deepshard.gg/internal/client"
	"deepshard.gg/internal/protocol"
	"deepshard.gg/internal/sim/worldgen"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "player name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	c := client.New(client.Config{
		URL:                  *url,
		Name:                 *name,
		MaxReconnectAttempts: 10,
		Logger:               logger,
	})
	defer c.Close()
	go func() {
		if err := c.Run(); err != nil {
			logger.Fatalf("client: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	predictor := client.NewPredictor()
	digTicker := time.NewTicker(300 * time.Millisecond)
	defer digTicker.Stop()

	var (
		inMatch     bool
		digX        = 3
		digY        = 1
		seq         uint64
		corrections int
	)

	for {
		select {
		case <-stop:
			logger.Printf("done: %d corrections over %d digs", corrections, seq)
			return

		case sc := <-c.States():
			logger.Printf("state=%s attempt=%d", sc.State, sc.Attempt)
			if sc.State == client.StateConnected && !inMatch {
				c.QuickPlay()
			}
			if sc.State == client.StateFailed {
				logger.Fatalf("gave up reconnecting")
			}

		case msg := <-c.Events():
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeMatchmakingResult:
				var res protocol.MatchmakingResultMsg
				if err := json.Unmarshal(msg, &res); err != nil {
					continue
				}
				if !res.Success {
					logger.Fatalf("matchmaking: %s", res.Error)
				}
				logger.Printf("matched shard=%s", res.ShardID)

			case protocol.TypeMatchJoined:
				var joined protocol.MatchJoinedMsg
				if err := json.Unmarshal(msg, &joined); err != nil {
					continue
				}
				inMatch = true
				digX = int(joined.SpawnX)
				if digX <= 0 || digX >= worldgen.ChunkWidth-1 {
					digX = worldgen.ChunkWidth / 2
				}
				digY = 1
				logger.Printf("joined match=%s seed=%d players=%d", joined.MatchID, joined.Seed, len(joined.Players))

			case protocol.TypeBlockUpdate:
				var bu protocol.BlockUpdateMsg
				if err := json.Unmarshal(msg, &bu); err != nil {
					continue
				}
				if corr, mispredicted := predictor.Reconcile(bu); mispredicted {
					corrections++
					logger.Printf("corrected (%d,%d) -> hp=%d destroyed=%v", corr.X, corr.Y, corr.NewHP, corr.Destroyed)
				}
				if bu.Destroyed && bu.X == digX && bu.Y == digY {
					digY++ // next block down
				}

			case protocol.TypePlayerStateUpdate:
				predictor.Resync()

			case protocol.TypeError:
				var e protocol.ErrorMsg
				if err := json.Unmarshal(msg, &e); err != nil {
					continue
				}
				logger.Printf("server error %s: %s", e.Code, e.Message)
			}

		case <-digTicker.C:
			if !inMatch {
				continue
			}
			seq++
			// Optimistic guess: assume the dig lands and destroys.
			predictor.PredictDig(digX, digY, 0, true, seq)
			c.Dig(digX, digY, seq)
			c.Move(float64(digX), float64(digY))
		}
	}
}
