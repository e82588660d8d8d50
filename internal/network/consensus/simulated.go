package consensus

import (
	"context"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"trustnet/internal/network/models"
)

const (
	DefaultApproveProbability = 0.95
	minSimulatedLatencyMs     = 50
	simulatedLatencySpreadMs  = 400
)

// SimulatedCollector fabricates votes. It stands in for remote attestation until
// validators report real verification results. Latency is reported, not slept.
type SimulatedCollector struct {
	mu          sync.Mutex
	rng         *rand.Rand
	approveProb float64
}

type SimulatedOption func(*SimulatedCollector)

// WithSeed makes the vote sequence reproducible.
func WithSeed(seed uint64) SimulatedOption {
	return func(c *SimulatedCollector) {
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithApproveProbability sets the chance each validator approves.
func WithApproveProbability(p float64) SimulatedOption {
	return func(c *SimulatedCollector) {
		c.approveProb = p
	}
}

func NewSimulatedCollector(opts ...SimulatedOption) *SimulatedCollector {
	c := &SimulatedCollector{
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		approveProb: DefaultApproveProbability,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fans out one goroutine per validator and gathers their votes.
func (c *SimulatedCollector) Collect(ctx context.Context, _ string, validators []*models.Node) ([]models.Ballot, error) {
	ballots := make([]models.Ballot, len(validators))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range validators {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vote, latency := c.draw()
			ballots[i] = models.Ballot{NodeID: v.ID, Vote: vote, LatencyMs: latency}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ballots, nil
}

// draw serialises access to the shared source; rand.Rand is not safe for concurrent use.
func (c *SimulatedCollector) draw() (models.Vote, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vote := models.VoteReject
	if c.rng.Float64() < c.approveProb {
		vote = models.VoteApprove
	}
	return vote, minSimulatedLatencyMs + c.rng.IntN(simulatedLatencySpreadMs+1)
}
