package descriptor

import (
	"github.com/rawblock/keysweep/internal/registry"
)

// GlobalIterator round-robins across every (template, script-type)
// descriptor from the registry, draining a descriptor's priority queue
// first whenever a gap hit has opened new work for it. "Last descriptor"
// is tracked as a list index, not a pointer, because removal shifts the
// list.
type GlobalIterator struct {
	descriptors []*Iterator
	cursor      int
	lastIndex   int // index into descriptors of the last-drained iterator; -1 if none
}

// NewGlobal builds one Iterator per (template, script-type) pair in the
// registry's fixed, insertion-preserved order.
func NewGlobal(entries []registry.Entry, addressGap, accountGap uint32) *GlobalIterator {
	var descriptors []*Iterator
	for _, e := range entries {
		for _, st := range e.ScriptTypes {
			descriptors = append(descriptors, New(e.Template, st, addressGap, accountGap))
		}
	}
	return &GlobalIterator{descriptors: descriptors, lastIndex: -1}
}

// Next returns the next candidate across all descriptors, or false once
// every descriptor is exhausted.
func (g *GlobalIterator) Next() (Candidate, bool) {
	for len(g.descriptors) > 0 {
		c, ok := g.nextFromOneDescriptor()
		if ok {
			return c, true
		}
	}
	return Candidate{}, false
}

func (g *GlobalIterator) nextFromOneDescriptor() (Candidate, bool) {
	if g.lastIndex >= 0 && g.lastIndex < len(g.descriptors) && g.descriptors[g.lastIndex].HasPriorityScripts() {
		if c, ok := g.descriptors[g.lastIndex].Next(); ok {
			return c, true
		}
	}

	g.lastIndex = g.cursor
	c, ok := g.descriptors[g.cursor].Next()

	if !ok {
		// erase-with-shift invalidates lastIndex; an exhausted descriptor
		// has no priority work anyway, so dropping the reference is safe.
		g.descriptors = append(g.descriptors[:g.cursor], g.descriptors[g.cursor+1:]...)
		g.cursor--
		g.lastIndex = -1
	}

	g.cursor++
	if len(g.descriptors) == 0 {
		return Candidate{}, false
	}
	if g.cursor >= len(g.descriptors) {
		g.cursor = 0
	}

	return c, ok
}

// TotalScripts sums the remaining descriptors' running totals.
func (g *GlobalIterator) TotalScripts() int {
	total := 0
	for _, d := range g.descriptors {
		total += d.TotalScripts()
	}
	return total
}

// SetLastUsed delegates to the last-drained descriptor's SetUsed,
// expanding its search in response to a gap hit.
func (g *GlobalIterator) SetLastUsed() {
	if g.lastIndex >= 0 && g.lastIndex < len(g.descriptors) {
		g.descriptors[g.lastIndex].SetUsed()
	}
}

// MarkUsed expands c's owning descriptor's search around c's own cell,
// independent of how many candidates (from that descriptor or any other)
// were drained in between. This is what lets the scanner pull a whole
// batch before deciding usage without losing track of which descriptor,
// and which cell, a hit belongs to.
func (g *GlobalIterator) MarkUsed(c Candidate) {
	if c.owner != nil {
		c.owner.last = c.Cell
		c.owner.hasLast = true
		c.owner.SetUsed()
	}
}

// Remaining reports how many descriptors are still active, for tests and
// coverage reporting.
func (g *GlobalIterator) Remaining() int {
	return len(g.descriptors)
}
