// Package scanner drives the global descriptor iterator against a history
// oracle, batching probes and reshaping the search on gap feedback, to
// produce the UTXO set a master key actually controls.
package scanner

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/rawblock/keysweep/internal/descriptor"
	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/internal/metrics"
	"github.com/rawblock/keysweep/internal/oracle"
	"github.com/rawblock/keysweep/internal/registry"
	"github.com/rawblock/keysweep/internal/script"
	"github.com/rawblock/keysweep/pkg/models"
)

// MaxBatchSize mirrors oracle.MaxBatchSize; the batch size is capped
// there even when the caller asks for more.
const MaxBatchSize = oracle.MaxBatchSize

// UsedDescriptor is emitted once per distinct (template, script-type)
// pair the first time it is observed used, for user-visible reporting.
type UsedDescriptor struct {
	Path       string
	ScriptType string
}

// UtxoFound is emitted for every UTXO discovered.
type UtxoFound struct {
	Txid        string
	OutputIndex uint32
	AmountSat   int64
	Path        string
	ScriptType  string
}

// EventFunc is an optional progress callback; nil disables reporting.
type EventFunc func(descriptorHit *UsedDescriptor, utxo *UtxoFound)

// Scanner drives one scan of a master key against a history oracle.
// All iterator state is exclusively owned by the scanner; the scan loop
// is single-threaded and only blocks on the oracle's
// GetHistory/ListUnspent calls.
type Scanner struct {
	oracle    oracle.HistoryOracle
	global    *descriptor.GlobalIterator
	batchSize int
	eventFunc EventFunc
	coverage  *metrics.Accumulator

	probed     atomic.Int64
	utxosFound atomic.Int64
}

// Progress is a point-in-time snapshot of scan state, safe to read
// concurrently with Scan (e.g. from a status endpoint).
type Progress struct {
	TotalScripts int   `json:"totalScripts"`
	Probed       int64 `json:"probed"`
	UtxosFound   int64 `json:"utxosFound"`
}

// New builds a scanner over the full template registry. batchSize is
// clamped to [1, MaxBatchSize]; pass 1 to disable batching (--no-batching).
func New(historyOracle oracle.HistoryOracle, entries []registry.Entry, addressGap, accountGap uint32, batchSize int, eventFunc EventFunc) *Scanner {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	global := descriptor.NewGlobal(entries, addressGap, accountGap)
	return &Scanner{
		oracle:    historyOracle,
		global:    global,
		batchSize: batchSize,
		eventFunc: eventFunc,
		coverage:  metrics.NewAccumulator(global.TotalScripts()),
	}
}

// Progress returns a snapshot of the scan's current state. TotalScripts is
// re-read live since gap expansion grows it as the scan proceeds.
func (s *Scanner) Progress() Progress {
	return Progress{
		TotalScripts: s.global.TotalScripts(),
		Probed:       s.probed.Load(),
		UtxosFound:   s.utxosFound.Load(),
	}
}

// Coverage returns a summary of the search actually performed so far,
// suitable for the CLI's final report or a scan-session response.
func (s *Scanner) Coverage() models.CoverageReport {
	s.coverage.SetRemaining(s.global.TotalScripts())
	return s.coverage.Report()
}

// Scan walks every descriptor to exhaustion, returning every UTXO found.
// Oracle failure aborts the scan immediately: no silent retry, no
// partial-result fallback baked into the API.
func (s *Scanner) Scan(masterKey *keys.MasterKey) ([]models.Utxo, error) {
	seenDescriptors := map[*descriptor.Iterator]bool{}
	var utxos []models.Utxo

	for {
		batch, err := s.nextBatch(masterKey)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		s.probed.Add(int64(len(batch)))

		scriptHashes := make([]string, len(batch))
		for i, b := range batch {
			scriptHashes[i] = oracle.ScriptHash(b.outputScript)
			s.coverage.RecordProbe(b.candidate.Owner().TemplateKey(), 1)
		}

		histories, err := s.oracle.GetHistory(scriptHashes)
		if err != nil {
			return nil, fmt.Errorf("scanner: get_history: %w", err)
		}

		var used []probedCandidate
		var usedHashes []string
		for i, h := range histories {
			if len(h) == 0 {
				continue
			}
			b := batch[i]
			s.global.MarkUsed(b.candidate)
			s.coverage.RecordHit(b.candidate.Owner().TemplateKey())

			if !seenDescriptors[b.candidate.Owner()] {
				seenDescriptors[b.candidate.Owner()] = true
				log.Printf("scanner: used address found at path=%s type=%s", b.candidate.Path.String(), b.candidate.ScriptType.String())
				if s.eventFunc != nil {
					s.eventFunc(&UsedDescriptor{Path: b.candidate.Path.String(), ScriptType: b.candidate.ScriptType.String()}, nil)
				}
			}

			used = append(used, b)
			usedHashes = append(usedHashes, scriptHashes[i])
		}

		if len(used) == 0 {
			continue
		}

		unspentLists, err := s.oracle.ListUnspent(usedHashes)
		if err != nil {
			return nil, fmt.Errorf("scanner: listunspent: %w", err)
		}

		for i, entries := range unspentLists {
			b := used[i]
			realizedPath := b.candidate.Path.String()
			for _, e := range entries {
				utxo := models.Utxo{
					Txid:        e.TxHash,
					OutputIndex: e.TxPos,
					AmountSat:   e.Value,
					Path:        realizedPath,
					ScriptType:  b.candidate.ScriptType,
				}
				utxos = append(utxos, utxo)
				s.utxosFound.Add(1)
				log.Printf("scanner: unspent output found at (%s, %d) with %d sats", e.TxHash, e.TxPos, e.Value)
				if s.eventFunc != nil {
					s.eventFunc(nil, &UtxoFound{
						Txid: e.TxHash, OutputIndex: e.TxPos, AmountSat: e.Value,
						Path: realizedPath, ScriptType: b.candidate.ScriptType.String(),
					})
				}
			}
		}
	}

	return utxos, nil
}

// probedCandidate pairs a grid candidate with the derived output script
// it was probed under, so the batch loop never re-derives keys.
type probedCandidate struct {
	candidate    descriptor.Candidate
	outputScript []byte
}

// nextBatch pulls up to batchSize candidates from the global iterator and
// derives each one's output script, so the scanner can hash it for the
// history probe.
func (s *Scanner) nextBatch(masterKey *keys.MasterKey) ([]probedCandidate, error) {
	batch := make([]probedCandidate, 0, s.batchSize)
	for i := 0; i < s.batchSize; i++ {
		c, ok := s.global.Next()
		if !ok {
			break
		}
		outputScript, err := outputScriptFor(masterKey, c)
		if err != nil {
			return nil, err
		}
		batch = append(batch, probedCandidate{candidate: c, outputScript: outputScript})
	}
	return batch, nil
}

func outputScriptFor(masterKey *keys.MasterKey, c descriptor.Candidate) ([]byte, error) {
	indexes, err := c.Path.Realize()
	if err != nil {
		return nil, fmt.Errorf("scanner: realizing path %s: %w", c.Path.String(), err)
	}
	derived, err := masterKey.Derive(indexes)
	if err != nil {
		return nil, fmt.Errorf("scanner: deriving path %s: %w", c.Path.String(), err)
	}
	pubkey, err := keys.PubKey(derived)
	if err != nil {
		return nil, fmt.Errorf("scanner: extracting pubkey for %s: %w", c.Path.String(), err)
	}
	outputScript, err := script.OutputScript(c.ScriptType, pubkey)
	if err != nil {
		return nil, fmt.Errorf("scanner: building output script for %s: %w", c.Path.String(), err)
	}
	return outputScript, nil
}
