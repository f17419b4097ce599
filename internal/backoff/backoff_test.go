package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.WithDefaults()
	assert.Equal(t, DefaultPolicy(), p)

	custom := Policy{Baseline: 5 * time.Millisecond, EmptyFactor: 2}.WithDefaults()
	assert.Equal(t, 5*time.Millisecond, custom.Baseline)
	assert.Equal(t, 2, custom.EmptyFactor)
	assert.Equal(t, 21, custom.RedirectFactor)
}

func TestTableNextPicksMinimum(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	_, ok := tbl.Next()
	assert.False(t, ok)

	tbl.Add("a")
	tbl.Add("b")
	tbl.Add("c")

	e, ok := tbl.Next()
	require.True(t, ok)
	assert.Equal(t, "a", e.Key, "ties go to the first added")

	tbl.GrowEmpty("a")
	e, _ = tbl.Next()
	assert.Equal(t, "b", e.Key)

	tbl.GrowRedirect("b")
	tbl.GrowEmpty("c")
	e, _ = tbl.Next()
	assert.Equal(t, "a", e.Key)
	assert.Equal(t, 3*time.Millisecond, e.Delay)

	d, ok := tbl.Delay("b")
	require.True(t, ok)
	assert.Equal(t, 21*time.Millisecond, d)
}

func TestTableGrowthIsMonotonic(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	tbl.Add("p")

	prev := tbl.Min()
	for i := 0; i < 10; i++ {
		tbl.GrowEmpty("p")
		cur, _ := tbl.Delay("p")
		assert.Greater(t, cur, prev)
		prev = cur
	}

	tbl.Reset("p")
	d, _ := tbl.Delay("p")
	assert.Equal(t, time.Millisecond, d)
}

func TestTableElapseFloorsAtZero(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	tbl.Add("a")
	tbl.Add("b")
	for i := 0; i < 8; i++ {
		tbl.GrowEmpty("b")
	}

	tbl.Elapse(2 * time.Second)
	a, _ := tbl.Delay("a")
	b, _ := tbl.Delay("b")
	assert.Equal(t, time.Duration(0), a)
	assert.Equal(t, 6561*time.Millisecond-2*time.Second, b)

	tbl.GrowEmpty("a")
	a, _ = tbl.Delay("a")
	assert.Equal(t, 3*time.Millisecond, a, "zero delay grows from baseline")
}

func TestTableIdle(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	assert.False(t, tbl.Idle())

	tbl.Add("a")
	tbl.Add("b")
	for tbl.Min() <= 2*time.Second {
		tbl.GrowEmpty("a")
		tbl.GrowEmpty("b")
	}
	assert.True(t, tbl.Idle())

	tbl.Elapse(tbl.Policy().IdleCeiling)
	assert.False(t, tbl.Idle())
}

func TestTableIdleAtCeiling(t *testing.T) {
	tbl := NewTable(Policy{Baseline: time.Millisecond, EmptyFactor: 3, IdleCeiling: 9 * time.Millisecond})
	tbl.Add("a")
	tbl.GrowEmpty("a")
	assert.False(t, tbl.Idle())

	tbl.GrowEmpty("a")
	assert.True(t, tbl.Idle(), "a delay equal to the ceiling counts as idle")
}

func TestTableAddRemove(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	tbl.Add("a")
	tbl.Add("b")
	tbl.Add("c")
	tbl.GrowEmpty("b")

	tbl.Add("b")
	d, _ := tbl.Delay("b")
	assert.Equal(t, time.Millisecond, d, "re-adding resets")
	assert.Equal(t, 3, tbl.Len())

	tbl.Remove("a")
	tbl.Remove("missing")
	assert.Equal(t, []string{"b", "c"}, tbl.Keys())
	tbl.GrowEmpty("c")
	d, _ = tbl.Delay("c")
	assert.Equal(t, 3*time.Millisecond, d)

	_, ok := tbl.Delay("a")
	assert.False(t, ok)

	tbl.Clear()
	assert.Zero(t, tbl.Len())
	assert.Zero(t, tbl.Min())
}
