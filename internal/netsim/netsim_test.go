package netsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRangeRejectsInverted(t *testing.T) {
	_, err := NewRange(100*time.Millisecond, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestNewRangeRejectsNegative(t *testing.T) {
	_, err := NewRange(-1, 10)
	assert.Error(t, err)
}

func TestFixedRangeSamplesExactly(t *testing.T) {
	r := Fixed(80 * time.Millisecond)
	s := NewSampler(1)
	assert.Equal(t, 80*time.Millisecond, s.Duration(r))
}

func TestDurationStaysWithinRange(t *testing.T) {
	r := MustRange(10*time.Millisecond, 20*time.Millisecond)
	s := NewSampler(42)

	for i := 0; i < 200; i++ {
		d := s.Duration(r)
		require.GreaterOrEqual(t, d, r.Min)
		require.LessOrEqual(t, d, r.Max)
	}
}

func TestSameSeedIsDeterministic(t *testing.T) {
	r := MustRange(0, 1000*time.Millisecond)
	a := NewSampler(7)
	b := NewSampler(7)

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Duration(r), b.Duration(r))
	}
}
