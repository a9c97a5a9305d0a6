// Package descriptor implements the diagonal-order, gap-driven
// (index, account) grid walk for one (path template, script type) pair,
// and the round-robin global iterator over all such descriptors.
package descriptor

import (
	"github.com/rawblock/keysweep/internal/path"
	"github.com/rawblock/keysweep/pkg/models"
)

// Cell is one (address index, account) coordinate in a descriptor's grid.
type Cell struct {
	Index   uint32
	Account uint32
}

// Candidate is one emitted grid cell, fully addressed by its owning
// template and script type. owner lets the scanner mark a candidate used
// after a whole batch has been pulled, regardless of how other
// descriptors have been drained in between — see GlobalIterator.MarkUsed.
type Candidate struct {
	Path       path.Path
	ScriptType models.ScriptType
	Cell       Cell
	owner      *Iterator
}

// Owner returns the descriptor this candidate was drawn from. Since
// Candidate.Path is already fully realized (account and index both
// substituted), Path.String() is unique per grid cell, not per
// descriptor — callers that need to recognize "the same descriptor
// again" (e.g. deduping a first-use notification) should key on Owner,
// not on Path.
func (c Candidate) Owner() *Iterator {
	return c.owner
}

// Iterator walks one (Path, ScriptType) descriptor's (index, account) grid
// in diagonal order, expanding its bounds on gap-limit feedback from
// SetUsed.
type Iterator struct {
	template    path.Path
	scriptType  models.ScriptType
	addressGap  uint32
	accountGap  uint32
	hasIndex    bool
	hasAccount  bool
	cursor      Cell
	maxIndex    uint32
	maxAccount  uint32
	extraIdx    []Cell
	extraAcct   []Cell
	last        Cell
	hasLast     bool
	totalScripts int
}

// New constructs a descriptor iterator for one (template, script type)
// pair with the given address-gap and account-gap limits.
func New(template path.Path, scriptType models.ScriptType, addressGap, accountGap uint32) *Iterator {
	it := &Iterator{
		template:   template,
		scriptType: scriptType,
		addressGap: addressGap,
		accountGap: accountGap,
		hasIndex:   template.HasVariableIndex(),
		hasAccount: template.HasVariableAccount(),
	}
	if it.hasIndex {
		it.maxIndex = addressGap
	}
	if it.hasAccount {
		it.maxAccount = accountGap
	}
	it.totalScripts = int(it.maxIndex+1) * int(it.maxAccount+1)
	return it
}

// TotalScripts is the running estimate of how many scripts this descriptor
// will ever emit.
func (it *Iterator) TotalScripts() int {
	return it.totalScripts
}

// HasPriorityScripts reports whether a gap hit has opened pending,
// higher-priority work for this descriptor.
func (it *Iterator) HasPriorityScripts() bool {
	return len(it.extraIdx) > 0
}

// TemplateKey identifies this descriptor by its unrealized template and
// script type, stable across every cell it ever emits — unlike a
// Candidate's Path, which is realized per cell.
func (it *Iterator) TemplateKey() string {
	return it.template.String() + "|" + it.scriptType.String()
}

// Next returns the next candidate cell, or false if this descriptor's grid
// (including any expansion queues) is exhausted.
func (it *Iterator) Next() (Candidate, bool) {
	if len(it.extraIdx) > 0 {
		c := it.extraIdx[0]
		it.extraIdx = it.extraIdx[1:]
		return it.candidateAt(c), true
	}
	if len(it.extraAcct) > 0 {
		c := it.extraAcct[0]
		it.extraAcct = it.extraAcct[1:]
		return it.candidateAt(c), true
	}
	if it.cursor.Index > it.maxIndex || it.cursor.Account > it.maxAccount {
		return Candidate{}, false
	}

	response := it.candidateAt(it.cursor)
	it.last = it.cursor
	it.hasLast = true

	if it.cursor.Index == 0 || it.cursor.Account == it.maxAccount {
		diagonal := it.cursor.Index + it.cursor.Account + 1
		newIndex := diagonal
		if newIndex > it.maxIndex {
			newIndex = it.maxIndex
		}
		it.cursor = Cell{Index: newIndex, Account: diagonal - newIndex}
	} else {
		it.cursor = Cell{Index: it.cursor.Index - 1, Account: it.cursor.Account + 1}
	}

	return response, true
}

func (it *Iterator) candidateAt(c Cell) Candidate {
	return Candidate{
		Path:       it.template.WithAccount(c.Account).WithIndex(c.Index),
		ScriptType: it.scriptType,
		Cell:       c,
		owner:      it,
	}
}

// SetUsed is called after Next when the last-emitted script was observed
// as used by the history oracle. It expands the address-gap envelope
// around the hit and, if necessary, unlocks new account rows.
//
// Address-gap cells are enqueued against last.Account, not the
// iterator's current Account: by the time a hit is reported the cursor
// has already advanced, possibly onto a different row.
func (it *Iterator) SetUsed() {
	if !it.hasLast {
		return
	}

	// Expansion is only meaningful along an axis the template actually
	// varies on. Without this guard a hit on a fixed-account template
	// would grow max_account forever: every added row realizes to the
	// same scripts, each re-probe hits again, and the scan never
	// terminates.
	if it.hasIndex {
		for i := it.last.Index + 1; i <= it.last.Index+it.addressGap; i++ {
			if i > it.maxIndex && !it.containsIndexCell(Cell{Index: i, Account: it.last.Account}) {
				it.extraIdx = append(it.extraIdx, Cell{Index: i, Account: it.last.Account})
				it.totalScripts++
			}
		}
	}
	if !it.hasAccount {
		return
	}

	currentDiagonal := it.cursor.Index + it.cursor.Account
	for it.maxAccount <= it.last.Account+it.accountGap {
		it.maxAccount++
		it.totalScripts += int(it.maxIndex + 1)
		if it.maxAccount >= currentDiagonal {
			continue
		}
		for i := uint32(0); i < currentDiagonal-it.maxAccount; i++ {
			it.extraAcct = append(it.extraAcct, Cell{Index: i, Account: it.maxAccount})
		}
	}
}

func (it *Iterator) containsIndexCell(c Cell) bool {
	for _, e := range it.extraIdx {
		if e == c {
			return true
		}
	}
	return false
}
