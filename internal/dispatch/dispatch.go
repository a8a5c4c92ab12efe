// Package dispatch implements the action dispatcher of spec §4.E:
// at-least-once delivery of matched occurrences via noop, http_post,
// and file_append actions, with retry and permanent/transient failure
// classification.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

// OccurrenceDoc is one matched transaction as it travels inside an
// Envelope's apply/rollback batch.
type OccurrenceDoc struct {
	Height    uint64         `json:"height"`
	BlockHash string         `json:"block_hash"`
	TxIndex   int            `json:"tx_index"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Envelope is the JSON body sent to http_post actions and appended
// (one per line) to file_append actions: a single outbound payload per
// predicate per ChainEdit, carrying every occurrence the edit produced
// across both its rolled-back and newly-applied blocks (spec §4.E).
type Envelope struct {
	PredicateUUID string          `json:"predicate_uuid"`
	Chain         string          `json:"chain"`
	Apply         []OccurrenceDoc `json:"apply,omitempty"`
	Rollback      []OccurrenceDoc `json:"rollback,omitempty"`
}

func NewEnvelope(c chain.Name, p *predicate.Predicate, apply, rollback []chain.Occurrence) Envelope {
	return Envelope{
		PredicateUUID: p.UUID,
		Chain:         string(c),
		Apply:         occurrenceDocs(apply),
		Rollback:      occurrenceDocs(rollback),
	}
}

func occurrenceDocs(occs []chain.Occurrence) []OccurrenceDoc {
	if len(occs) == 0 {
		return nil
	}
	out := make([]OccurrenceDoc, len(occs))
	for i, o := range occs {
		out[i] = OccurrenceDoc{Height: o.BlockID.Height, BlockHash: o.BlockID.Hash.String(), TxIndex: o.TxIndex, Payload: o.Payload}
	}
	return out
}

// Outcome classifies a dispatch attempt's result so callers can
// decide whether to retry or give up without blocking cursor advance
// (spec §4.E, §7).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

// Sender delivers one envelope for one action. Implementations return
// a plain error; Dispatcher classifies it.
type Sender interface {
	Send(ctx context.Context, a predicate.Action, env Envelope) error
}

// Dispatcher wraps a Sender with the retry policy of spec §4.E.
type Dispatcher struct {
	sender  Sender
	backoff BackoffConfig
	log     *slog.Logger
}

func NewDispatcher(sender Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, backoff: DefaultBackoff(), log: log}
}

// Dispatch delivers env via a, retrying transient failures per the
// backoff policy, and returns the terminal outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, a predicate.Action, env Envelope) Outcome {
	height := env.representativeHeight()
	op := fmt.Sprintf("%s predicate=%s height=%d", a.Kind, env.PredicateUUID, height)
	err := WithBackoff(ctx, d.backoff, d.log, op, func() error {
		return d.sender.Send(ctx, a, env)
	})
	if err == nil {
		return OutcomeSuccess
	}
	if isPermanent(a, err) {
		d.log.Error("dispatch permanently failed", "predicate_uuid", env.PredicateUUID, "chain", env.Chain, "height", height, "action", a.Kind, "error", err)
		return OutcomePermanent
	}
	d.log.Error("dispatch exhausted retries", "predicate_uuid", env.PredicateUUID, "chain", env.Chain, "height", height, "action", a.Kind, "error", err)
	return OutcomeTransient
}

// representativeHeight picks one height to identify this batch in
// logs: the latest applied block, falling back to the earliest
// rolled-back one.
func (e Envelope) representativeHeight() uint64 {
	if len(e.Apply) > 0 {
		return e.Apply[len(e.Apply)-1].Height
	}
	if len(e.Rollback) > 0 {
		return e.Rollback[0].Height
	}
	return 0
}

func isPermanent(a predicate.Action, err error) bool {
	var he *httpStatusError
	if !errors.As(err, &he) {
		return false
	}
	return he.status >= 400 && he.status < 500 && he.status != http.StatusTooManyRequests
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string { return fmt.Sprintf("sink http status %d", e.status) }

// MultiSender routes by action kind to the concrete sender, mirroring
// the teacher's per-protocol Sender implementations.
type MultiSender struct {
	HTTP       Sender
	FileAppend Sender
	Noop       Sender
}

func NewMultiSender() *MultiSender {
	return &MultiSender{HTTP: NewHTTPSender(), FileAppend: NewFileAppendSender(), Noop: NewNoopSender()}
}

func (m *MultiSender) Send(ctx context.Context, a predicate.Action, env Envelope) error {
	switch a.Kind {
	case predicate.ActionHTTPPost:
		return m.HTTP.Send(ctx, a, env)
	case predicate.ActionFileAppend:
		return m.FileAppend.Send(ctx, a, env)
	case predicate.ActionNoop:
		return m.Noop.Send(ctx, a, env)
	default:
		return fmt.Errorf("unsupported action kind %q", a.Kind)
	}
}

// httpSender is spec §4.E's http_post action: JSON POST, 2xx required.
type httpSender struct {
	client *http.Client
}

func NewHTTPSender() Sender {
	return &httpSender{client: &http.Client{Timeout: 8 * time.Second}}
}

func (s *httpSender) Send(ctx context.Context, a predicate.Action, env Envelope) error {
	if a.HTTPPost == nil {
		return fmt.Errorf("http_post action missing config")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.HTTPPost.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.HTTPPost.AuthorizationHeader != "" {
		req.Header.Set("Authorization", a.HTTPPost.AuthorizationHeader)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

// fileAppendSender is spec §4.E's file_append action: one JSON line
// per envelope, optionally fsynced for the durable:true option.
type fileAppendSender struct{}

func NewFileAppendSender() Sender { return &fileAppendSender{} }

func (s *fileAppendSender) Send(ctx context.Context, a predicate.Action, env Envelope) error {
	if a.FileAppend == nil {
		return fmt.Errorf("file_append action missing config")
	}
	f, err := os.OpenFile(a.FileAppend.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.FileAppend.Path, err)
	}
	defer f.Close()

	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", a.FileAppend.Path, err)
	}
	if a.FileAppend.Durable {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("fsync %s: %w", a.FileAppend.Path, err)
		}
	}
	return nil
}

// noopSender is spec §4.E's noop action, used for dry-run predicates.
type noopSender struct{}

func NewNoopSender() Sender { return &noopSender{} }

func (s *noopSender) Send(ctx context.Context, a predicate.Action, env Envelope) error { return nil }
