package smbo

import (
	"context"
	"iter"
	"sync"

	"github.com/copyleftdev/smbo/internal/metrics"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// Origins of challengers and evaluated configurations.
const (
	OriginRandomSearch       = "Random Search"
	OriginRandomSearchSorted = "Random Search (sorted)"
	OriginLocalSearch        = "Local Search"
	OriginInitialDesign      = "Initial Design"
	OriginDefault            = "Default"
)

// ErrSuperseded ends a sequence whose engine retrained its surrogate for a
// later ChooseNext. Challengers produced before that stay available.
var ErrSuperseded = optimization.NewError(optimization.KindUnknown,
	"challenger sequence superseded by a later ChooseNext").WithComponent(component)

// Challenger is a candidate configuration with its acquisition utility.
// Utility is 0 when it was not computed.
type Challenger struct {
	Utility float64
	Config  *space.Configuration
	// Origin names the generator that produced Config. It is diagnostic
	// only.
	Origin string
}

// Generator produces a batch of n challengers on demand. incumbent is nil
// while no incumbent is known.
type Generator interface {
	Challengers(ctx context.Context, n int, incumbent *space.Configuration) iter.Seq2[Challenger, error]
}

// Challengers is a lazily produced challenger sequence. Elements are
// computed when first requested and remembered, so every iteration replays
// the same prefix and then continues production. It is safe for concurrent
// use.
type Challengers struct {
	mu      sync.Mutex
	next    func() (Challenger, error, bool)
	stop    func()
	items   []Challenger
	err     error
	done    bool
	metrics *metrics.Metrics
}

func newChallengers(seq iter.Seq2[Challenger, error], m *metrics.Metrics) *Challengers {
	next, stop := iter.Pull2(seq)
	return &Challengers{next: next, stop: stop, metrics: m}
}

// fill produces elements until index i exists or the sequence ends.
// c.mu must be held.
func (c *Challengers) fill(i int) {
	for len(c.items) <= i && !c.done {
		ch, err, ok := c.next()
		switch {
		case !ok:
			c.finish(nil)
		case err != nil:
			c.finish(err)
		default:
			c.items = append(c.items, ch)
			c.metrics.RecordChallenger(ch.Origin)
		}
	}
}

func (c *Challengers) finish(err error) {
	c.done = true
	c.err = err
	c.stop()
}

// At returns the i-th challenger, producing it if needed. ok is false once
// the sequence ended before i, check Err for the reason.
func (c *Challengers) At(i int) (Challenger, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fill(i)
	if i < len(c.items) {
		return c.items[i], true
	}
	return Challenger{}, false
}

// All iterates over the sequence from the start.
func (c *Challengers) All() iter.Seq2[int, Challenger] {
	return func(yield func(int, Challenger) bool) {
		for i := 0; ; i++ {
			ch, ok := c.At(i)
			if !ok || !yield(i, ch) {
				return
			}
		}
	}
}

// Take returns up to k challengers from the start of the sequence.
func (c *Challengers) Take(k int) ([]Challenger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k > 0 {
		c.fill(k - 1)
	}
	n := min(k, len(c.items))
	if n < 0 {
		n = 0
	}
	out := append([]Challenger(nil), c.items[:n]...)
	if len(out) < k {
		return out, c.err
	}
	return out, nil
}

// Collect produces the whole sequence.
func (c *Challengers) Collect() ([]Challenger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.done {
		c.fill(len(c.items))
	}
	return append([]Challenger(nil), c.items...), c.err
}

// Produced returns the number of challengers computed so far.
func (c *Challengers) Produced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Err returns the error that ended production, if any.
func (c *Challengers) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// supersede ends production with ErrSuperseded unless the sequence already
// ended.
func (c *Challengers) supersede() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finish(ErrSuperseded)
	}
}

// Close stops production. Already produced challengers stay available.
func (c *Challengers) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.finish(nil)
	}
}

// interleave alternates local and random challengers, starting with local.
// It stops as soon as either side is exhausted, and both members of a pair
// are produced before the first is yielded, so every prefix alternates.
func interleave(local, random iter.Seq2[Challenger, error]) iter.Seq2[Challenger, error] {
	return func(yield func(Challenger, error) bool) {
		nextLocal, stopLocal := iter.Pull2(local)
		defer stopLocal()
		nextRandom, stopRandom := iter.Pull2(random)
		defer stopRandom()

		for {
			l, err, ok := nextLocal()
			if !ok {
				return
			}
			if err != nil {
				yield(Challenger{}, err)
				return
			}
			r, err, ok := nextRandom()
			if !ok {
				return
			}
			if err != nil {
				yield(Challenger{}, err)
				return
			}
			if !yield(l, nil) || !yield(r, nil) {
				return
			}
		}
	}
}
