// Package coordinator implements the stream coordinator of spec
// §4.F: per-chain ownership of the fork graph and block store, live
// predicate evaluation, and the scanner handoff.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/chainl1"
	"github.com/chainrelay/chainhooks/internal/chainl2"
	"github.com/chainrelay/chainhooks/internal/dispatch"
	"github.com/chainrelay/chainhooks/internal/dispatchlog"
	"github.com/chainrelay/chainhooks/internal/forkgraph"
	"github.com/chainrelay/chainhooks/internal/predicate"
	"github.com/chainrelay/chainhooks/internal/registry"
	"github.com/chainrelay/chainhooks/internal/upstream"
)

// Metrics is the narrow slice of internal/metrics a coordinator
// drives; kept as an interface so tests can stub it.
type Metrics interface {
	BlocksApplied(chain.Name)
	BlocksRolledBack(chain.Name)
	OccurrencesMatched(chain.Name)
	ScannerLag(chain.Name, uint64)
}

// BufferedEdit is one ChainEdit's occurrences for a single predicate,
// held until that predicate's scanner job catches up and flushes them.
type BufferedEdit struct {
	Apply    []chain.Occurrence
	Rollback []chain.Occurrence
}

// LiveBuffer holds streaming-side matches for predicates that are
// still New or Scanning, keyed by uuid, until the scanner catches up
// to the handoff window and flushes them back to the coordinator
// (spec §4.F: "streaming-only matches are buffered keyed by uuid and
// flushed once the scanner catches up to tip - k"). One LiveBuffer is
// shared between a chain's coordinator and every scanner job for that
// chain.
type LiveBuffer struct {
	mu   sync.Mutex
	data map[string][]BufferedEdit
}

func NewLiveBuffer() *LiveBuffer {
	return &LiveBuffer{data: make(map[string][]BufferedEdit)}
}

// Append records one edit's occurrences for uuid. No-op if both
// sides are empty.
func (b *LiveBuffer) Append(uuid string, apply, rollback []chain.Occurrence) {
	if len(apply) == 0 && len(rollback) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[uuid] = append(b.data[uuid], BufferedEdit{Apply: apply, Rollback: rollback})
}

// Flush returns and clears every edit buffered for uuid, in arrival order.
func (b *LiveBuffer) Flush(uuid string) []BufferedEdit {
	b.mu.Lock()
	defer b.mu.Unlock()
	edits := b.data[uuid]
	delete(b.data, uuid)
	return edits
}

// Coordinator owns one chain's live ingestion path (spec §4.F):
// upstream subscription → fork graph → block store → matcher →
// dispatcher, and hands newly-registered predicates to a scanner
// until they catch up within HandoffWindow of the tip.
type Coordinator struct {
	Chain         chain.Name
	Kind          string // "l1" | "l2"
	Source        upstream.BlockSource
	Store         *blockstore.Store
	Graph         *forkgraph.Graph
	Registry      *registry.Registry
	Dispatcher    *dispatch.Dispatcher
	Log           *dispatchlog.Store
	Logger        *slog.Logger
	Metrics       Metrics
	Buffer        *LiveBuffer
	HandoffWindow uint64
}

// Run subscribes to the chain's upstream headers and applies every
// ChainEdit they produce until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	headers, errs := c.Source.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			c.Logger.Error("upstream subscription error", "chain", c.Chain, "error", err)
		case h, ok := <-headers:
			if !ok {
				return nil
			}
			if err := c.handleHeader(ctx, h); err != nil {
				c.Logger.Error("handle header failed", "chain", c.Chain, "height", h.ID.Height, "error", err)
			}
		}
	}
}

// blockRef pairs a directive's BlockID with the raw block payload the
// matcher needs, for either side of a ChainEdit.
type blockRef struct {
	id      chain.BlockID
	payload []byte
}

func (c *Coordinator) handleHeader(ctx context.Context, h chain.Header) error {
	edit := c.Graph.Ingest(h)
	if edit.Empty() {
		return nil
	}

	var rollbackBlocks []blockRef
	for _, d := range edit.Rollbacks() {
		payload, err := c.Store.GetBlock(c.Chain, d.ID.Hash)
		if err != nil {
			return fmt.Errorf("fetch rolled-back block %d: %w", d.ID.Height, err)
		}
		rollbackBlocks = append(rollbackBlocks, blockRef{id: d.ID, payload: payload})
		if err := c.Store.ReindexCanonical(c.Chain, d.ID.Height, nil); err != nil {
			return fmt.Errorf("rollback reindex height %d: %w", d.ID.Height, err)
		}
		c.Metrics.BlocksRolledBack(c.Chain)
	}

	var applyBlocks []blockRef
	for _, d := range edit.Applies() {
		raw, err := c.Source.GetBlock(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", d.ID.Height, err)
		}
		blockHeader, err := c.decodeHeader(raw.Payload)
		if err != nil {
			return fmt.Errorf("decode block %d header: %w", d.ID.Height, err)
		}
		headerBytes, err := blockstore.Marshal(blockHeader)
		if err != nil {
			return fmt.Errorf("marshal header: %w", err)
		}
		if err := c.Store.ApplyBlock(c.Chain, d.ID, headerBytes, raw.Payload); err != nil {
			return fmt.Errorf("apply block %d: %w", d.ID.Height, err)
		}
		c.Metrics.BlocksApplied(c.Chain)
		applyBlocks = append(applyBlocks, blockRef{id: d.ID, payload: raw.Payload})
	}

	if edit.Divergent {
		return c.handleDivergent(edit, rollbackBlocks)
	}

	return c.evaluateEdit(ctx, edit, rollbackBlocks, applyBlocks)
}

// handleDivergent rewinds every non-terminal predicate on this chain
// to Scanning instead of running the normal matcher against a
// best-effort edit with no verified common ancestor (spec §7
// ForkDivergent: "mark predicates that crossed the window as Scanning
// from ancestor; restart coordinator loop"). The rewind point is one
// below the oldest rolled-back height (never below 0), so the scanner,
// which resumes at cursor+1, re-verifies that oldest height against
// whatever is canonical there now rather than trusting it.
// The scanner's own poll loop (cmd/chainhooks's runScanLoop) picks the
// predicate back up the next time it runs ListDueForScan.
func (c *Coordinator) handleDivergent(edit chain.Edit, rollbackBlocks []blockRef) error {
	rewindHeight := edit.NewTip.Height
	for _, b := range rollbackBlocks {
		if b.id.Height < rewindHeight {
			rewindHeight = b.id.Height
		}
	}
	if rewindHeight > 0 {
		rewindHeight--
	}

	c.Logger.Warn("fork graph rewind exceeded retained window, rescanning from earliest known ancestor",
		"chain", c.Chain, "new_tip", edit.NewTip.Height, "rewind_height", rewindHeight)

	preds, err := c.Registry.List(c.Chain)
	if err != nil {
		return err
	}
	for i := range preds {
		p := &preds[i]
		if p.Status == predicate.StatusExpired || p.Status == predicate.StatusDisabled {
			continue
		}
		if err := c.Registry.AdvanceCursor(c.Chain, p.UUID, rewindHeight, true); err != nil {
			c.Logger.Error("rewind cursor failed", "predicate_uuid", p.UUID, "error", err)
			continue
		}
		if err := c.Registry.SetStatus(c.Chain, p.UUID, predicate.StatusScanning); err != nil {
			c.Logger.Error("rewind status failed", "predicate_uuid", p.UUID, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) decodeHeader(payload []byte) (chain.Header, error) {
	switch c.Kind {
	case "l1":
		b, err := chainl1.DecodeBlock(payload)
		if err != nil {
			return chain.Header{}, err
		}
		return b.Header.ToChainHeader(), nil
	case "l2":
		b, err := chainl2.DecodeBlock(payload)
		if err != nil {
			return chain.Header{}, err
		}
		return b.Header.ToChainHeader(), nil
	default:
		return chain.Header{}, fmt.Errorf("unknown chain kind %q", c.Kind)
	}
}

// evaluateEdit runs every registered predicate's matcher against one
// ChainEdit's rolled-back and newly-applied blocks (spec §4.F step 5).
// Streaming predicates are dispatched immediately, one envelope per
// predicate per edit (spec §4.E); predicates still New or Scanning
// have their matches buffered for their scanner job to flush once it
// hands off.
func (c *Coordinator) evaluateEdit(ctx context.Context, edit chain.Edit, rollbackBlocks, applyBlocks []blockRef) error {
	preds, err := c.Registry.List(c.Chain)
	if err != nil {
		return err
	}

	for i := range preds {
		p := &preds[i]
		if p.Status == predicate.StatusExpired || p.Status == predicate.StatusDisabled {
			continue
		}

		rollbackOccs := c.matchBlocks(p, rollbackBlocks)
		applyOccs := c.matchBlocks(p, applyBlocks)

		if p.Status != predicate.StatusStreaming {
			if c.Buffer != nil {
				c.Buffer.Append(p.UUID, applyOccs, rollbackOccs)
			}
			continue
		}

		c.dispatchEdit(ctx, p, applyOccs, rollbackOccs)
		if err := c.Registry.AdvanceCursor(c.Chain, p.UUID, edit.NewTip.Height, false); err != nil {
			c.Logger.Error("advance cursor failed", "predicate_uuid", p.UUID, "error", err)
		}
	}
	return nil
}

// matchBlocks runs the matcher against every block in order and
// concatenates the occurrences; a match error on one block logs and
// is skipped rather than discarding the other blocks' occurrences
// (spec §7 PredicateEvaluation: "skip this occurrence, continue").
func (c *Coordinator) matchBlocks(p *predicate.Predicate, blocks []blockRef) []chain.Occurrence {
	var out []chain.Occurrence
	for _, b := range blocks {
		occs, err := c.match(p, b.payload)
		if err != nil {
			c.Logger.Error("predicate evaluation failed", "predicate_uuid", p.UUID, "chain", c.Chain, "height", b.id.Height, "error", err)
		}
		out = append(out, occs...)
	}
	return out
}

func (c *Coordinator) match(p *predicate.Predicate, payload []byte) ([]chain.Occurrence, error) {
	switch c.Kind {
	case "l1":
		b, err := chainl1.DecodeBlock(payload)
		if err != nil {
			return nil, err
		}
		return chainl1.Match(b, p)
	case "l2":
		b, err := chainl2.DecodeBlock(payload)
		if err != nil {
			return nil, err
		}
		return chainl2.Match(b, p)
	default:
		return nil, fmt.Errorf("unknown chain kind %q", c.Kind)
	}
}

// dispatchEdit sends a single envelope for p covering every occurrence
// from one ChainEdit's rolled-back and newly-applied blocks (spec
// §4.E: "a single outbound payload per predicate per ChainEdit"). The
// apply side is truncated to the predicate's remaining
// expire_after_occurrence budget before sending (spec §4.E step 5,
// "only count against expire_after_occurrence if delivery succeeded").
func (c *Coordinator) dispatchEdit(ctx context.Context, p *predicate.Predicate, apply, rollback []chain.Occurrence) {
	if p.Bounds.ExpireAfterOccurrence != nil {
		limit := *p.Bounds.ExpireAfterOccurrence
		if p.OccurrencesTotal >= limit {
			return
		}
		if remaining := limit - p.OccurrencesTotal; uint64(len(apply)) > remaining {
			apply = apply[:remaining]
		}
	}
	if len(apply) == 0 && len(rollback) == 0 {
		return
	}

	env := dispatch.NewEnvelope(c.Chain, p, apply, rollback)
	batchID := batchKey(p.UUID, apply, rollback)

	if c.Log != nil {
		if already, err := c.Log.Delivered(ctx, batchID, string(p.Action.Kind)); err == nil && already {
			c.recordDelivered(p, apply)
			return
		}
		height, hash := representativeBlock(apply, rollback)
		_ = c.Log.InsertOccurrence(ctx, dispatchlog.Occurrence{
			ID:            batchID,
			PredicateUUID: p.UUID,
			Chain:         string(c.Chain),
			Height:        height,
			BlockHash:     hash,
			TxIndex:       -1,
			CreatedAt:     time.Now(),
		})
	}

	outcome := c.Dispatcher.Dispatch(ctx, p.Action, env)
	if outcome == dispatch.OutcomeSuccess {
		c.recordDelivered(p, apply)
	} else {
		_ = c.Registry.RecordDispatchFailure(c.Chain, p.UUID)
	}
	if c.Log != nil {
		_ = c.Log.RecordDelivery(ctx, dispatchlog.Delivery{
			OccurrenceID: batchID,
			ActionKind:   string(p.Action.Kind),
			Outcome:      outcomeLabel(outcome),
			Attempts:     1,
		})
	}
	c.Metrics.OccurrencesMatched(c.Chain)
}

func (c *Coordinator) recordDelivered(p *predicate.Predicate, apply []chain.Occurrence) {
	if len(apply) == 0 {
		return
	}
	if err := c.Registry.RecordOccurrences(c.Chain, p.UUID, uint64(len(apply))); err != nil {
		c.Logger.Error("record occurrences failed", "predicate_uuid", p.UUID, "error", err)
		return
	}
	p.OccurrencesTotal += uint64(len(apply))
}

// batchKey derives a deterministic idempotency id for one predicate's
// dispatch of one ChainEdit, so a crash-restart replay of the same
// edit is recognized as already delivered.
func batchKey(uuid string, apply, rollback []chain.Occurrence) string {
	var b strings.Builder
	b.WriteString(uuid)
	for _, o := range rollback {
		fmt.Fprintf(&b, "|r%d.%d", o.BlockID.Height, o.TxIndex)
	}
	for _, o := range apply {
		fmt.Fprintf(&b, "|a%d.%d", o.BlockID.Height, o.TxIndex)
	}
	return b.String()
}

// representativeBlock picks one block id to log the batch under in
// the delivery ledger (the ledger schema is occurrence-shaped, not
// batch-shaped; this just gives operators a height to look at).
func representativeBlock(apply, rollback []chain.Occurrence) (uint64, string) {
	if len(apply) > 0 {
		o := apply[len(apply)-1]
		return o.BlockID.Height, o.BlockID.Hash.String()
	}
	if len(rollback) > 0 {
		o := rollback[0]
		return o.BlockID.Height, o.BlockID.Hash.String()
	}
	return 0, ""
}

func outcomeLabel(o dispatch.Outcome) string {
	switch o {
	case dispatch.OutcomeSuccess:
		return "success"
	case dispatch.OutcomeTransient:
		return "transient"
	default:
		return "permanent"
	}
}
