// Package scanner implements the backfill scanner of spec §4.G: one
// job per predicate, replaying canonical blocks from the block store
// in fixed-size batches until it catches up to the live tip, then
// handing the predicate to the coordinator's streaming path.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/chainl1"
	"github.com/chainrelay/chainhooks/internal/chainl2"
	"github.com/chainrelay/chainhooks/internal/coordinator"
	"github.com/chainrelay/chainhooks/internal/dispatch"
	"github.com/chainrelay/chainhooks/internal/dispatchlog"
	"github.com/chainrelay/chainhooks/internal/predicate"
	"github.com/chainrelay/chainhooks/internal/registry"
)

// Metrics is the narrow metrics surface a scanner job drives.
type Metrics interface {
	ScannerLag(chain.Name, uint64)
}

// Job backfills a single predicate from its cursor up to the chain
// tip, in batches of BatchSize blocks (default 100, spec §4.G).
type Job struct {
	Chain      chain.Name
	Kind       string // "l1" | "l2"
	Store      *blockstore.Store
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Log        *dispatchlog.Store
	Logger     *slog.Logger
	Metrics    Metrics
	Buffer     *coordinator.LiveBuffer
	BatchSize  int
	Handoff    uint64
}

// Run replays blocks for p.UUID until it is within Handoff blocks of
// the live tip, at which point it flips the predicate to Streaming,
// flushes any matches the coordinator buffered for it in the
// meantime, and returns. tip is called once per loop iteration so
// blocks the coordinator applies live while this job is still
// catching up are folded into the next batch rather than left in a
// permanent gap. It stops early if ctx is cancelled, leaving the
// cursor at the end of the last batch that runBatch completed.
func (j *Job) Run(ctx context.Context, uuid string, tip func() uint64) error {
	if err := j.Registry.SetStatus(j.Chain, uuid, predicate.StatusScanning); err != nil {
		return fmt.Errorf("mark scanning: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, err := j.Registry.Get(j.Chain, uuid)
		if err != nil {
			return fmt.Errorf("get predicate: %w", err)
		}
		if p.Status == predicate.StatusExpired || p.Status == predicate.StatusDisabled {
			return nil
		}

		tipHeight := tip()
		end := tipHeight
		if p.Bounds.EndBlock != nil && *p.Bounds.EndBlock < end {
			end = *p.Bounds.EndBlock
		}

		if p.Cursor >= end || end-p.Cursor <= j.Handoff {
			return j.handoff(ctx, j.Chain, uuid, p.Cursor)
		}

		batchEnd := p.Cursor + uint64(j.BatchSize)
		if batchEnd > end {
			batchEnd = end
		}

		if err := j.runBatch(ctx, p, p.Cursor+1, batchEnd); err != nil {
			j.Logger.Error("scan batch failed, will retry", "predicate_uuid", uuid, "chain", j.Chain, "from", p.Cursor+1, "to", batchEnd, "error", err)
			continue
		}

		if j.Metrics != nil {
			j.Metrics.ScannerLag(j.Chain, tipHeight-batchEnd)
		}
	}
}

// runBatch evaluates and dispatches one batch, then advances the
// cursor to the batch's last height. A dispatch that fails after the
// dispatcher's own retries is recorded against the predicate with
// RecordDispatchFailure and does not hold the cursor back; only a
// store or registry error (or cancellation) leaves the cursor where it
// was. Dispatch stops early for the rest of the batch once the
// predicate's expire_after_occurrence budget is exhausted (spec §4.E
// step 5, "for a predicate with expire_after_occurrence = N, total
// successful dispatched occurrences ≤ N... further occurrences are
// suppressed").
func (j *Job) runBatch(ctx context.Context, p *predicate.Predicate, from, to uint64) error {
	items, err := j.Store.ScanRange(j.Chain, from, to)
	if err != nil {
		return fmt.Errorf("scan range %d-%d: %w", from, to, err)
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current, err := j.Registry.Get(j.Chain, p.UUID)
		if err != nil {
			return fmt.Errorf("get predicate: %w", err)
		}
		if current.Expired() {
			return j.Registry.AdvanceCursor(j.Chain, p.UUID, to, false)
		}

		occs, err := j.match(current, item.Block)
		if err != nil {
			j.Logger.Error("predicate evaluation failed", "predicate_uuid", p.UUID, "height", item.Height, "error", err)
		}
		if len(occs) == 0 {
			continue
		}

		j.dispatchEdit(ctx, current, occs, nil)
	}

	return j.Registry.AdvanceCursor(j.Chain, p.UUID, to, false)
}

func (j *Job) match(p *predicate.Predicate, payload []byte) ([]chain.Occurrence, error) {
	switch j.Kind {
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
		return nil, fmt.Errorf("unknown chain kind %q", j.Kind)
	}
}

// dispatchEdit sends a single envelope for p covering apply and
// rollback occurrences from one unit of work (one backfilled block
// here; a full ChainEdit when flushing the live buffer), truncating
// apply to the predicate's remaining expire_after_occurrence budget.
func (j *Job) dispatchEdit(ctx context.Context, p *predicate.Predicate, apply, rollback []chain.Occurrence) {
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

	env := dispatch.NewEnvelope(j.Chain, p, apply, rollback)
	batchID := batchKey(p.UUID, apply, rollback)

	if j.Log != nil {
		if already, err := j.Log.Delivered(ctx, batchID, string(p.Action.Kind)); err == nil && already {
			j.recordDelivered(p, apply)
			return
		}
		height, hash := representativeBlock(apply, rollback)
		_ = j.Log.InsertOccurrence(ctx, dispatchlog.Occurrence{
			ID:            batchID,
			PredicateUUID: p.UUID,
			Chain:         string(j.Chain),
			Height:        height,
			BlockHash:     hash,
			TxIndex:       -1,
			CreatedAt:     time.Now(),
		})
	}

	outcome := j.Dispatcher.Dispatch(ctx, p.Action, env)
	if outcome == dispatch.OutcomeSuccess {
		j.recordDelivered(p, apply)
	} else {
		_ = j.Registry.RecordDispatchFailure(j.Chain, p.UUID)
	}
	if j.Log != nil {
		_ = j.Log.RecordDelivery(ctx, dispatchlog.Delivery{
			OccurrenceID: batchID,
			ActionKind:   string(p.Action.Kind),
			Outcome:      outcomeLabel(outcome),
			Attempts:     1,
		})
	}
}

func (j *Job) recordDelivered(p *predicate.Predicate, apply []chain.Occurrence) {
	if len(apply) == 0 {
		return
	}
	if err := j.Registry.RecordOccurrences(j.Chain, p.UUID, uint64(len(apply))); err != nil {
		j.Logger.Error("record occurrences failed", "predicate_uuid", p.UUID, "error", err)
		return
	}
	p.OccurrencesTotal += uint64(len(apply))
}

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

// handoff flips the predicate to Streaming and flushes every edit the
// coordinator buffered for it while it was New or Scanning, dropping
// any occurrence at or below cursor (already covered by this job's
// own batch replay) so the flush never re-delivers what the scanner
// already sent (spec §4.F: "flushed once the scanner catches up").
func (j *Job) handoff(ctx context.Context, c chain.Name, uuid string, cursor uint64) error {
	if err := j.Registry.SetStatus(c, uuid, predicate.StatusStreaming); err != nil {
		return fmt.Errorf("mark streaming: %w", err)
	}
	j.Logger.Info("predicate caught up, handed off to live streaming", "predicate_uuid", uuid, "chain", c)

	if j.Buffer == nil {
		return nil
	}
	edits := j.Buffer.Flush(uuid)
	if len(edits) == 0 {
		return nil
	}

	p, err := j.Registry.Get(c, uuid)
	if err != nil {
		return fmt.Errorf("get predicate for buffer flush: %w", err)
	}
	for _, e := range edits {
		apply := aboveHeight(e.Apply, cursor)
		rollback := aboveHeight(e.Rollback, cursor)
		if len(apply) == 0 && len(rollback) == 0 {
			continue
		}
		j.dispatchEdit(ctx, p, apply, rollback)
	}
	return nil
}

func aboveHeight(occs []chain.Occurrence, cursor uint64) []chain.Occurrence {
	var out []chain.Occurrence
	for _, o := range occs {
		if o.BlockID.Height > cursor {
			out = append(out, o)
		}
	}
	return out
}
