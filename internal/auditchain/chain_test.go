package auditchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/requestcontext"
)

type ChainSuite struct {
	suite.Suite
	store *InMemoryStore
	chain *Chain
	ctx   context.Context
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.chain = New(s.store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC))
}

func (s *ChainSuite) appendN(n int) []*Entry {
	out := make([]*Entry, 0, n)
	for i := range n {
		e, err := s.chain.Append(s.ctx, ActionNodeRegistered, "u-1", map[string]any{"node_id": fmt.Sprintf("NODE-%d", i), "n": i})
		s.Require().NoError(err)
		out = append(out, e)
	}
	return out
}

func (s *ChainSuite) TestAppendLinksEntries() {
	entries := s.appendN(3)
	s.Equal(GenesisHash(), entries[0].PreviousHash)
	s.Equal(entries[0].Hash, entries[1].PreviousHash)
	s.Equal(entries[1].Hash, entries[2].PreviousHash)
	s.Equal(int64(3), entries[2].Seq)
	s.Equal(time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC), entries[0].Timestamp, "timestamps are truncated to microseconds")

	head, seq, err := s.chain.Head(s.ctx)
	s.Require().NoError(err)
	s.Equal(entries[2].Hash, head)
	s.Equal(int64(3), seq)
}

func (s *ChainSuite) TestVerifyValidChain() {
	for _, n := range []int{0, 1, 10} {
		s.SetupTest()
		s.appendN(n)
		v, err := s.chain.Verify(s.ctx)
		s.Require().NoError(err)
		s.True(v.ChainValid, "chain of %d entries", n)
		s.Equal(n, v.Checked)
	}
}

func (s *ChainSuite) TestVerifyDetectsEveryFieldMutation() {
	mutations := map[string]func(e *Entry){
		"hash":          func(e *Entry) { e.Hash = "00" + e.Hash[2:] },
		"previous_hash": func(e *Entry) { e.PreviousHash = "ff" + e.PreviousHash[2:] },
		"action":        func(e *Entry) { e.Action = ActionNodeSuspended },
		"actor":         func(e *Entry) { e.Actor = "someone-else" },
		"timestamp":     func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"details":       func(e *Entry) { e.Details = json.RawMessage(`{"n":99}`) },
		"seq":           func(e *Entry) { e.Seq = 42 },
	}
	for field, mutate := range mutations {
		for _, target := range []int64{1, 3, 5} {
			s.Run(fmt.Sprintf("%s of entry %d", field, target), func() {
				s.SetupTest()
				s.appendN(5)
				s.store.Tamper(target, mutate)
				tampered, err := s.store.All(s.ctx)
				s.Require().NoError(err)

				v := VerifyEntries(tampered)
				s.False(v.ChainValid)
				s.Equal(tampered[target-1].Hash, v.BrokenAtHash)
				s.Equal(target, v.BrokenAtSeq)
				s.Equal(int(target), v.Checked, "verification stops at the first break")
			})
		}
	}
}

func (s *ChainSuite) TestVerifyHaltsAppends() {
	s.appendN(3)
	s.store.Tamper(2, func(e *Entry) { e.Actor = "intruder" })

	v, err := s.chain.Verify(s.ctx)
	s.Require().NoError(err)
	s.False(v.ChainValid)

	halted, brokenAt := s.chain.Halted()
	s.True(halted)
	s.Equal(v.BrokenAtHash, brokenAt)

	_, err = s.chain.Append(s.ctx, ActionNodeActivated, "u-1", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeTamperDetected))
}

func (s *ChainSuite) TestListNewestFirst() {
	entries := s.appendN(4)
	got, err := s.chain.List(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(entries[3].Hash, got[0].Hash)
	s.Equal(entries[2].Hash, got[1].Hash)
}

func (s *ChainSuite) TestHeadResumesFromStore() {
	entries := s.appendN(2)
	restarted := New(s.store)
	e, err := restarted.Append(s.ctx, ActionNodeActivated, "u-2", nil)
	s.Require().NoError(err)
	s.Equal(entries[1].Hash, e.PreviousHash)
	s.Equal(int64(3), e.Seq)
}

func TestConcurrentAppendsStayLinked(t *testing.T) {
	store := NewInMemoryStore()
	chain := New(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chain.Append(ctx, ActionGateDecision, fmt.Sprintf("u-%d", i), map[string]any{"i": i})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
	assert.True(t, VerifyEntries(entries).ChainValid)
}

func TestCanonicalDetailsIgnoresStructFieldOrder(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	fromStruct, err := CanonicalDetails(ab{B: "2", A: "1"})
	require.NoError(t, err)
	fromMap, err := CanonicalDetails(map[string]any{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.JSONEq(t, string(fromMap), string(fromStruct))
	assert.Equal(t, string(fromMap), string(fromStruct))

	empty, err := CanonicalDetails(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []*Entry
}

func (p *recordingPublisher) Publish(_ context.Context, e *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	return nil
}

func TestPublisherMirrorsAppends(t *testing.T) {
	pub := &recordingPublisher{}
	chain := New(NewInMemoryStore(), WithPublisher(pub))
	_, err := chain.Append(context.Background(), ActionNodeRegistered, "u-1", nil)
	require.NoError(t, err)
	require.Len(t, pub.entries, 1)
	assert.Equal(t, ActionNodeRegistered, pub.entries[0].Action)
}

func TestVerifierEscalatesTamper(t *testing.T) {
	store := NewInMemoryStore()
	chain := New(store)
	ctx := context.Background()
	for range 3 {
		_, err := chain.Append(ctx, ActionGateDecision, "u-1", nil)
		require.NoError(t, err)
	}

	escalations := &recordingPublisher{}
	metrics := NewVerifierMetrics(prometheus.NewRegistry())
	v := NewVerifier(chain, time.Minute,
		WithEscalation(escalations),
		WithVerifierMetrics(metrics),
		WithVerifierLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	assert.True(t, v.RunOnce(ctx).ChainValid)
	assert.Empty(t, escalations.entries)

	store.Tamper(2, func(e *Entry) { e.Details = json.RawMessage(`{"forged":true}`) })
	result := v.RunOnce(ctx)
	assert.False(t, result.ChainValid)
	require.Len(t, escalations.entries, 1)
	assert.Equal(t, ActionChainTamperDetected, escalations.entries[0].Action)
	assert.Equal(t, result.BrokenAtHash, escalations.entries[0].Hash)

	halted, _ := chain.Halted()
	assert.True(t, halted)
}

func TestVerifierRunStopsOnCancel(t *testing.T) {
	chain := New(NewInMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewVerifier(chain, time.Hour).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
