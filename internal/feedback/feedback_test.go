package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnknownIDIsNeutral(t *testing.T) {
	tr := New(DefaultConfig())
	assert.Equal(t, 1.0, tr.Factor(42))
}

func TestSignalUsefulRaisesFactor(t *testing.T) {
	tr := New(DefaultConfig())
	tr.SignalUseful("s1", []int64{1})
	tr.Flush()

	f := tr.Factor(1)
	assert.Greater(t, f, 1.0)
	assert.LessOrEqual(t, f, MaxFactor)
}

func TestSignalNoiseLowersFactor(t *testing.T) {
	tr := New(DefaultConfig())
	tr.SignalNoise("s1", []int64{2})
	tr.Flush()

	f := tr.Factor(2)
	assert.Less(t, f, 1.0)
	assert.GreaterOrEqual(t, f, MinFactor)
}

func TestFeedbackLoopOrdersUsefulAboveNoise(t *testing.T) {
	tr := New(DefaultConfig())
	tr.SignalUseful("s1", []int64{1})
	tr.SignalNoise("s1", []int64{2, 3})
	tr.Flush()

	assert.Greater(t, tr.Factor(1), tr.Factor(2))
	assert.Greater(t, tr.Factor(1), tr.Factor(3))
}

func TestAdjustSimilarity(t *testing.T) {
	tr := New(DefaultConfig())
	tr.SignalUseful("s1", []int64{1})
	tr.Flush()

	adjusted := tr.AdjustSimilarity(0.5, 1)
	assert.Greater(t, adjusted, 0.5)
}

func TestFactorClampsExtremeEvidence(t *testing.T) {
	tr := New(DefaultConfig())
	var ids []int64
	for i := 0; i < 100; i++ {
		ids = append(ids, 7)
	}
	tr.SignalUseful("s1", ids)
	tr.Flush()

	assert.Equal(t, MaxFactor, tr.Factor(7))
}

func TestPruneStaleRemovesOldFactors(t *testing.T) {
	tr := New(DefaultConfig())
	tr.SignalUseful("s1", []int64{1})
	tr.Flush()

	removed := tr.PruneStale(time.Now().Add(StaleAfter + time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1.0, tr.Factor(1))
}

func TestPruneStaleKeepsFreshFactors(t *testing.T) {
	tr := New(DefaultConfig())
	tr.SignalUseful("s1", []int64{1})
	tr.Flush()

	removed := tr.PruneStale(time.Now())
	assert.Equal(t, 0, removed)
	assert.NotEqual(t, 1.0, tr.Factor(1))
}

func TestFlushWithNoPendingIsNoop(t *testing.T) {
	tr := New(DefaultConfig())
	tr.Flush()
	assert.Equal(t, 1.0, tr.Factor(1))
}

func TestAdjustSimilarity_MonotonicInSignalDirection(t *testing.T) {
	const s = 0.5

	none := New(DefaultConfig())
	assert.Equal(t, s, none.AdjustSimilarity(s, 99))

	positiveOnly := New(DefaultConfig())
	positiveOnly.SignalUseful("s1", []int64{1})
	positiveOnly.Flush()
	assert.GreaterOrEqual(t, positiveOnly.AdjustSimilarity(s, 1), s)

	negativeOnly := New(DefaultConfig())
	negativeOnly.SignalNoise("s1", []int64{1})
	negativeOnly.Flush()
	assert.LessOrEqual(t, negativeOnly.AdjustSimilarity(s, 1), s)
}
