package backoff

import (
	"time"
)

// Policy controls how per-partition poll delays evolve
type Policy struct {
	// Baseline is the delay a partition starts at and returns to after it
	// yields messages.
	Baseline time.Duration
	// EmptyFactor multiplies the delay after a poll that returned nothing.
	EmptyFactor int
	// RedirectFactor multiplies the delay after the broker redirected the
	// offset.
	RedirectFactor int
	// IdleCeiling is the sleep taken once every partition has backed off
	// beyond it.
	IdleCeiling time.Duration
}

// DefaultPolicy returns the standard delays
func DefaultPolicy() Policy {
	return Policy{
		Baseline:       time.Millisecond,
		EmptyFactor:    3,
		RedirectFactor: 21,
		IdleCeiling:    2 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultPolicy
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.Baseline <= 0 {
		p.Baseline = d.Baseline
	}
	if p.EmptyFactor <= 1 {
		p.EmptyFactor = d.EmptyFactor
	}
	if p.RedirectFactor <= 1 {
		p.RedirectFactor = d.RedirectFactor
	}
	if p.IdleCeiling <= 0 {
		p.IdleCeiling = d.IdleCeiling
	}
	return p
}

// Entry is the current delay of one partition replica
type Entry struct {
	Key   string
	Delay time.Duration
}

// Table tracks a delay per key and picks the least delayed one to poll
// next. It is owned by a single consumer and is not safe for concurrent use.
type Table struct {
	policy  Policy
	entries []Entry
	index   map[string]int
}

// NewTable creates an empty table
func NewTable(policy Policy) *Table {
	return &Table{
		policy: policy.WithDefaults(),
		index:  make(map[string]int),
	}
}

// Policy returns the effective policy
func (t *Table) Policy() Policy {
	return t.policy
}

// Add starts tracking key at the baseline delay. Adding a known key resets it.
func (t *Table) Add(key string) {
	if i, ok := t.index[key]; ok {
		t.entries[i].Delay = t.policy.Baseline
		return
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, Entry{Key: key, Delay: t.policy.Baseline})
}

// Remove stops tracking key
func (t *Table) Remove(key string) {
	i, ok := t.index[key]
	if !ok {
		return
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	delete(t.index, key)
	for j := i; j < len(t.entries); j++ {
		t.index[t.entries[j].Key] = j
	}
}

// Clear drops every entry
func (t *Table) Clear() {
	t.entries = nil
	t.index = make(map[string]int)
}

// Next returns the entry with the smallest delay. Ties go to the entry
// added first.
func (t *Table) Next() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	best := 0
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].Delay < t.entries[best].Delay {
			best = i
		}
	}
	return t.entries[best], true
}

// Min returns the smallest delay, or zero for an empty table
func (t *Table) Min() time.Duration {
	e, _ := t.Next()
	return e.Delay
}

// Delay returns key's current delay
func (t *Table) Delay(key string) (time.Duration, bool) {
	i, ok := t.index[key]
	if !ok {
		return 0, false
	}
	return t.entries[i].Delay, true
}

// Grow multiplies key's delay by factor. A zero delay grows from baseline.
func (t *Table) Grow(key string, factor int) {
	i, ok := t.index[key]
	if !ok {
		return
	}
	d := t.entries[i].Delay
	if d <= 0 {
		d = t.policy.Baseline
	}
	t.entries[i].Delay = d * time.Duration(factor)
}

// GrowEmpty applies the empty poll factor to key
func (t *Table) GrowEmpty(key string) {
	t.Grow(key, t.policy.EmptyFactor)
}

// GrowRedirect applies the redirect factor to key
func (t *Table) GrowRedirect(key string) {
	t.Grow(key, t.policy.RedirectFactor)
}

// Reset puts key back to the baseline delay
func (t *Table) Reset(key string) {
	if i, ok := t.index[key]; ok {
		t.entries[i].Delay = t.policy.Baseline
	}
}

// Elapse subtracts d from every delay, flooring at zero
func (t *Table) Elapse(d time.Duration) {
	for i := range t.entries {
		t.entries[i].Delay -= d
		if t.entries[i].Delay < 0 {
			t.entries[i].Delay = 0
		}
	}
}

// Idle reports whether every tracked key has backed off to the idle
// ceiling or past it, meaning the caller should sleep IdleCeiling and
// Elapse it.
func (t *Table) Idle() bool {
	return len(t.entries) > 0 && t.Min() >= t.policy.IdleCeiling
}

// Len returns the number of tracked keys
func (t *Table) Len() int {
	return len(t.entries)
}

// Keys returns tracked keys in insertion order
func (t *Table) Keys() []string {
	keys := make([]string, len(t.entries))
	for i, e := range t.entries {
		keys[i] = e.Key
	}
	return keys
}
