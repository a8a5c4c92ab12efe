// Package registry implements the durable predicate table of spec
// §4.C on top of the block store's generic raw keyspace, building the
// "predicates" and "progress" column families spec §6 lists.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chainrelay/chainhooks/internal/blockstore"
	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

var (
	ErrExists   = errors.New("registry: predicate already exists")
	ErrNotFound = errors.New("registry: predicate not found")
)

// Registry wraps the block store with predicate CRUD and the atomic
// status/cursor transitions spec §4.C requires. A single in-process
// mutex serializes writes (spec §5, "Predicate status transitions are
// serialized via the registry's atomic operations") since tm-db's
// per-key writes are already atomic but multi-field updates (status +
// cursor) need to be read-modify-write safe across goroutines.
type Registry struct {
	mu    sync.Mutex
	store *blockstore.Store
}

func New(store *blockstore.Store) *Registry {
	return &Registry{store: store}
}

func predKey(c chain.Name, uuid string) []byte {
	return []byte(fmt.Sprintf("predicates|%s|%s", c, uuid))
}

func predPrefix(c chain.Name) []byte {
	return []byte(fmt.Sprintf("predicates|%s|", c))
}

// Register inserts a new predicate with status New and the initial
// cursor derived from its bounds (spec §4.C). tipHeight is the
// chain's current tip, used when no start_block is set.
func (r *Registry) Register(p predicate.Predicate, tipHeight uint64) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists, err := r.store.GetRaw(predKey(p.Chain, p.UUID)); err != nil {
		return err
	} else if exists {
		return ErrExists
	}

	p.Status = predicate.StatusNew
	if p.Bounds.StartBlock != nil && *p.Bounds.StartBlock > 0 {
		p.Cursor = *p.Bounds.StartBlock - 1
	} else {
		p.Cursor = tipHeight
	}

	return r.put(p)
}

func (r *Registry) put(p predicate.Predicate) error {
	raw, err := blockstore.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal predicate: %w", err)
	}
	return r.store.PutRaw(predKey(p.Chain, p.UUID), raw)
}

// Get returns a predicate by chain+uuid.
func (r *Registry) Get(c chain.Name, uuid string) (*predicate.Predicate, error) {
	raw, ok, err := r.store.GetRaw(predKey(c, uuid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var p predicate.Predicate
	if err := blockstore.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal predicate: %w", err)
	}
	return &p, nil
}

// List returns every predicate registered for a chain, uuid-sorted
// for deterministic output from the HTTP control API.
func (r *Registry) List(c chain.Name) ([]predicate.Predicate, error) {
	raw, err := r.store.IterateRaw(predPrefix(c))
	if err != nil {
		return nil, err
	}
	out := make([]predicate.Predicate, 0, len(raw))
	for _, v := range raw {
		var p predicate.Predicate
		if err := blockstore.Unmarshal(v, &p); err != nil {
			return nil, fmt.Errorf("unmarshal predicate: %w", err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

// ListDueForScan returns every predicate whose status is New or
// Scanning (SPEC_FULL §4.C supplement), used to requeue backfill jobs
// interrupted by a restart.
func (r *Registry) ListDueForScan(c chain.Name) ([]predicate.Predicate, error) {
	all, err := r.List(c)
	if err != nil {
		return nil, err
	}
	var out []predicate.Predicate
	for _, p := range all {
		if p.Status == predicate.StatusNew || p.Status == predicate.StatusScanning {
			out = append(out, p)
		}
	}
	return out, nil
}

// Delete removes a predicate.
func (r *Registry) Delete(c chain.Name, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists, err := r.store.GetRaw(predKey(c, uuid)); err != nil {
		return err
	} else if !exists {
		return ErrNotFound
	}
	return r.store.DeleteRaw(predKey(c, uuid))
}

// SetStatus atomically transitions a predicate's status.
func (r *Registry) SetStatus(c chain.Name, uuid string, status predicate.Status) error {
	return r.mutate(c, uuid, func(p *predicate.Predicate) { p.Status = status })
}

// AdvanceCursor atomically advances the progress watermark. It is a
// no-op (never regresses) unless force is set, preserving spec §8's
// monotone-cursor property outside of explicit reorg rewinds.
func (r *Registry) AdvanceCursor(c chain.Name, uuid string, height uint64, force bool) error {
	return r.mutate(c, uuid, func(p *predicate.Predicate) {
		if force || height > p.Cursor {
			p.Cursor = height
		}
	})
}

// RecordOccurrences atomically adds to occurrences_total and, once
// the expire_after_occurrence cap is reached, flips status to Expired
// (spec §4.E).
func (r *Registry) RecordOccurrences(c chain.Name, uuid string, n uint64) error {
	return r.mutate(c, uuid, func(p *predicate.Predicate) {
		p.OccurrencesTotal += n
		if p.Expired() {
			p.Status = predicate.StatusExpired
		}
	})
}

// RecordDispatchFailure logs a DispatchPermanent outcome against a
// predicate without blocking cursor advancement (spec §4.E, §7).
func (r *Registry) RecordDispatchFailure(c chain.Name, uuid string) error {
	return r.mutate(c, uuid, func(p *predicate.Predicate) { p.DispatchFailures++ })
}

func (r *Registry) mutate(c chain.Name, uuid string, fn func(p *predicate.Predicate)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok, err := r.store.GetRaw(predKey(c, uuid))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	var p predicate.Predicate
	if err := blockstore.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal predicate: %w", err)
	}
	fn(&p)
	return r.put(p)
}
