// Package replay compares two scans of the same master key run with
// different oracle batch sizes, to verify that batching never changes
// what a scan finds. This is the "oracle batching fidelity" property:
// batching is purely a performance knob, never an observable one.
package replay

import (
	"fmt"
	"log"
	"sort"

	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/internal/oracle"
	"github.com/rawblock/keysweep/internal/registry"
	"github.com/rawblock/keysweep/internal/scanner"
	"github.com/rawblock/keysweep/pkg/models"
)

// Report captures the diff between two scans of identical oracle state run
// with different batch sizes.
type Report struct {
	BatchSizeA int           `json:"batchSizeA"`
	BatchSizeB int           `json:"batchSizeB"`
	UtxosA     int           `json:"utxosA"`
	UtxosB     int           `json:"utxosB"`
	Matched    bool          `json:"matched"`
	OnlyInA    []models.Utxo `json:"onlyInA,omitempty"`
	OnlyInB    []models.Utxo `json:"onlyInB,omitempty"`
}

// Compare runs two independent scans of masterKey against historyOracle,
// one with batchA and one with batchB, and reports whether they found the
// same UTXO set. historyOracle must answer identically regardless of how
// many script hashes are probed per call; a stateful oracle (e.g. one that
// mutates on read) would invalidate the comparison.
func Compare(historyOracle oracle.HistoryOracle, entries []registry.Entry, addressGap, accountGap uint32, masterKey *keys.MasterKey, batchA, batchB int) (*Report, error) {
	scanA := scanner.New(historyOracle, entries, addressGap, accountGap, batchA, nil)
	utxosA, err := scanA.Scan(masterKey)
	if err != nil {
		return nil, fmt.Errorf("replay: scan with batch=%d: %w", batchA, err)
	}

	scanB := scanner.New(historyOracle, entries, addressGap, accountGap, batchB, nil)
	utxosB, err := scanB.Scan(masterKey)
	if err != nil {
		return nil, fmt.Errorf("replay: scan with batch=%d: %w", batchB, err)
	}

	onlyInA, onlyInB := diff(utxosA, utxosB)
	report := &Report{
		BatchSizeA: batchA,
		BatchSizeB: batchB,
		UtxosA:     len(utxosA),
		UtxosB:     len(utxosB),
		Matched:    len(onlyInA) == 0 && len(onlyInB) == 0,
		OnlyInA:    onlyInA,
		OnlyInB:    onlyInB,
	}

	if !report.Matched {
		log.Printf("replay: DIVERGENCE batch=%d found %d utxos, batch=%d found %d utxos (%d only-in-A, %d only-in-B)",
			batchA, report.UtxosA, batchB, report.UtxosB, len(onlyInA), len(onlyInB))
	}

	return report, nil
}

// diff partitions two UTXO sets into the entries unique to each side,
// keyed by (txid, output index) since that pair uniquely identifies a UTXO
// regardless of which descriptor derivation order found it first.
func diff(a, b []models.Utxo) (onlyInA, onlyInB []models.Utxo) {
	keyOf := func(u models.Utxo) string { return fmt.Sprintf("%s:%d", u.Txid, u.OutputIndex) }

	inB := make(map[string]bool, len(b))
	for _, u := range b {
		inB[keyOf(u)] = true
	}
	inA := make(map[string]bool, len(a))
	for _, u := range a {
		inA[keyOf(u)] = true
	}

	for _, u := range a {
		if !inB[keyOf(u)] {
			onlyInA = append(onlyInA, u)
		}
	}
	for _, u := range b {
		if !inA[keyOf(u)] {
			onlyInB = append(onlyInB, u)
		}
	}

	sort.Slice(onlyInA, func(i, j int) bool { return keyOf(onlyInA[i]) < keyOf(onlyInA[j]) })
	sort.Slice(onlyInB, func(i, j int) bool { return keyOf(onlyInB[i]) < keyOf(onlyInB[j]) })

	return onlyInA, onlyInB
}
