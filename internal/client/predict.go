package client

import (
	"time"

	"deepshard.gg/internal/protocol"
)

// predictionMaxAge bounds how long a prediction may wait for its
// authoritative block_update before it is written off.
const predictionMaxAge = 5000 * time.Millisecond

// PendingPrediction records one optimistic dig outcome. Predictions
// are keyed by block coordinate, never by sequence number: two
// players hammering the same block produce updates that carry no seq
// for us, and the block is what the server reports on. Per
// coordinate they form a FIFO, because the server confirms digs in
// the order they were sent.
type PendingPrediction struct {
	X, Y        int
	PredictedHP int
	Destroyed   bool
	Seq         uint64
	At          time.Time
}

// Correction is the snap-back a mispredicted block needs.
type Correction struct {
	X, Y      int
	NewHP     int
	Destroyed bool
}

// Predictor tracks optimistic dig results until the server confirms
// or corrects them. Not goroutine-safe: it belongs to whichever
// goroutine owns the client's world view.
type Predictor struct {
	pending map[[2]int][]PendingPrediction
	now     func() time.Time
}

func NewPredictor() *Predictor {
	return &Predictor{
		pending: map[[2]int][]PendingPrediction{},
		now:     time.Now,
	}
}

// PredictDig records the optimistic outcome of one dig. A second
// prediction for the same block queues behind the first; each
// authoritative update retires exactly one.
func (p *Predictor) PredictDig(x, y, predictedHP int, destroyed bool, seq uint64) {
	p.purge()
	key := [2]int{x, y}
	p.pending[key] = append(p.pending[key], PendingPrediction{
		X:           x,
		Y:           y,
		PredictedHP: predictedHP,
		Destroyed:   destroyed,
		Seq:         seq,
		At:          p.now(),
	})
}

// Reconcile consumes one authoritative block_update against the
// oldest pending prediction for that block. A match is simply
// retired; a mismatch yields exactly one correction. Updates for
// blocks we never predicted (other players' digs) pass through
// untouched.
func (p *Predictor) Reconcile(u protocol.BlockUpdateMsg) (Correction, bool) {
	p.purge()
	key := [2]int{u.X, u.Y}
	q := p.pending[key]
	if len(q) == 0 {
		return Correction{}, false
	}
	oldest := q[0]
	if len(q) == 1 {
		delete(p.pending, key)
	} else {
		p.pending[key] = q[1:]
	}
	if oldest.PredictedHP == u.NewHP && oldest.Destroyed == u.Destroyed {
		return Correction{}, false
	}
	return Correction{X: u.X, Y: u.Y, NewHP: u.NewHP, Destroyed: u.Destroyed}, true
}

// Resync clears every pending prediction; a player_state_update means
// the server has re-sent authoritative truth.
func (p *Predictor) Resync() {
	p.pending = map[[2]int][]PendingPrediction{}
}

func (p *Predictor) Pending() int {
	n := 0
	for _, q := range p.pending {
		n += len(q)
	}
	return n
}

// purge drops predictions the server never answered. No correction is
// issued: the local block state is stale, but the next authoritative
// update for the block stands on its own.
func (p *Predictor) purge() {
	cutoff := p.now().Add(-predictionMaxAge)
	for key, q := range p.pending {
		kept := q[:0]
		for _, pred := range q {
			if !pred.At.Before(cutoff) {
				kept = append(kept, pred)
			}
		}
		if len(kept) == 0 {
			delete(p.pending, key)
		} else {
			p.pending[key] = kept
		}
	}
}
