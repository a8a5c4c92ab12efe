// Package blockstore implements the append-only, two-keyspace-per-chain
// block store of spec §4.A on top of an embedded key-value database
// (github.com/tendermint/tm-db, the same dbm.DB interface
// 232425wxy-BFT's store.BlockStore batches writes through).
//
// Keys are flat-namespaced rather than true column families (tm-db has
// no native column family concept), matching spec §6's persisted
// layout: <chain>|H|<height>|<hash>, <chain>|B|<hash>, <chain>|C|<height>,
// plus a generic raw keyspace the predicate registry builds its own
// "predicates" and "progress" column families on top of.
package blockstore

import (
	"bytes"
	"errors"
	"fmt"

	dbm "github.com/tendermint/tm-db"

	"github.com/chainrelay/chainhooks/internal/chain"
)

var ErrNotFound = errors.New("blockstore: not found")

// Store wraps a dbm.DB with the chain-prefixed keyspaces spec §4.A/§6
// describe. One Store instance backs every chain in the installation.
type Store struct {
	db dbm.DB
}

// OpenGoLevelDB opens (creating if absent) a goleveldb-backed store at
// dir/name, the production backend.
func OpenGoLevelDB(name, dir string) (*Store, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("open goleveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemDB opens an in-memory store, used by tests.
func OpenMemDB() *Store {
	return &Store{db: dbm.NewMemDB()}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the underlying database is reachable.
func (s *Store) Ping() error {
	_, err := s.db.Has([]byte("__ping__"))
	return err
}

func headerKey(c chain.Name, id chain.BlockID) []byte {
	return []byte(fmt.Sprintf("%s|H|%020d|%s", c, id.Height, id.Hash))
}

func headerPrefix(c chain.Name) []byte {
	return []byte(fmt.Sprintf("%s|H|", c))
}

func blockKey(c chain.Name, hash chain.Hash) []byte {
	return []byte(fmt.Sprintf("%s|B|%s", c, hash))
}

func canonicalKey(c chain.Name, height uint64) []byte {
	return []byte(fmt.Sprintf("%s|C|%020d", c, height))
}

func canonicalPrefix(c chain.Name) []byte {
	return []byte(fmt.Sprintf("%s|C|", c))
}

// PutBlock idempotently writes a header and block payload keyed by
// (height, hash). Calling it twice with the same BlockID is a no-op
// on the second call (spec §4.A).
func (s *Store) PutBlock(c chain.Name, id chain.BlockID, headerBytes, blockBytes []byte) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(headerKey(c, id), headerBytes); err != nil {
		return err
	}
	if err := b.Set(blockKey(c, id.Hash), blockBytes); err != nil {
		return err
	}
	return b.WriteSync()
}

// ApplyBlock performs PutBlock followed by ReindexCanonical as a
// single atomic batch, the crash-consistency contract spec §4.A
// requires: a reader after restart sees either the old canonical hash
// or the new one, never a partial write.
func (s *Store) ApplyBlock(c chain.Name, id chain.BlockID, headerBytes, blockBytes []byte) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(headerKey(c, id), headerBytes); err != nil {
		return err
	}
	if err := b.Set(blockKey(c, id.Hash), blockBytes); err != nil {
		return err
	}
	if err := b.Set(canonicalKey(c, id.Height), []byte(id.Hash.String())); err != nil {
		return err
	}
	return b.WriteSync()
}

// ReindexCanonical sets C|height -> hash, overwriting on reorg. A nil
// hash clears the canonical entry at that height (used when a
// Rollback has no replacement block on the new branch yet).
func (s *Store) ReindexCanonical(c chain.Name, height uint64, hash *chain.Hash) error {
	if hash == nil {
		return s.db.DeleteSync(canonicalKey(c, height))
	}
	return s.db.SetSync(canonicalKey(c, height), []byte(hash.String()))
}

// GetBlock returns the raw block payload for a hash.
func (s *Store) GetBlock(c chain.Name, hash chain.Hash) ([]byte, error) {
	v, err := s.db.Get(blockKey(c, hash))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// GetHeader returns the raw header payload for a BlockID.
func (s *Store) GetHeader(c chain.Name, id chain.BlockID) ([]byte, error) {
	v, err := s.db.Get(headerKey(c, id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// CanonicalHash returns the hash canonical at height, or ErrNotFound.
func (s *Store) CanonicalHash(c chain.Name, height uint64) (chain.Hash, error) {
	v, err := s.db.Get(canonicalKey(c, height))
	if err != nil {
		return chain.Hash{}, err
	}
	if len(v) == 0 {
		return chain.Hash{}, ErrNotFound
	}
	return chain.HashFromHex(string(v))
}

// RangeItem is one entry yielded by ScanRange.
type RangeItem struct {
	Height uint64
	Hash   chain.Hash
	Block  []byte
}

// ScanRange iterates canonical (height, block) pairs for heights in
// [lo, hi] inclusive, ascending, per spec §4.A. Heights with no
// canonical entry (never applied, or rolled back without replacement)
// are skipped.
func (s *Store) ScanRange(c chain.Name, lo, hi uint64) ([]RangeItem, error) {
	it, err := s.db.Iterator(canonicalKey(c, lo), append(canonicalKey(c, hi), 0x00))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []RangeItem
	for ; it.Valid(); it.Next() {
		if len(it.Value()) == 0 {
			continue
		}
		height, ok := parseCanonicalHeight(c, it.Key())
		if !ok {
			continue
		}
		hash, err := chain.HashFromHex(string(it.Value()))
		if err != nil {
			return nil, fmt.Errorf("scan range: %w", err)
		}
		blk, err := s.GetBlock(c, hash)
		if err != nil {
			return nil, fmt.Errorf("scan range height %d: %w", height, err)
		}
		out = append(out, RangeItem{Height: height, Hash: hash, Block: blk})
	}
	return out, it.Error()
}

func parseCanonicalHeight(c chain.Name, key []byte) (uint64, bool) {
	prefix := canonicalPrefix(c)
	if !bytes.HasPrefix(key, prefix) {
		return 0, false
	}
	rest := key[len(prefix):]
	var height uint64
	if _, err := fmt.Sscanf(string(rest), "%020d", &height); err != nil {
		return 0, false
	}
	return height, true
}

// RawHeader pairs a header's BlockID with its encoded payload, used by
// IterateHeaders to let callers decode with their own codec.
type RawHeader struct {
	ID      chain.BlockID
	Payload []byte
}

// IterateHeaders returns every retained header for a chain in
// ascending height order, used to rehydrate the fork graph on startup
// (SPEC_FULL §4.B supplement).
func (s *Store) IterateHeaders(c chain.Name) ([]RawHeader, error) {
	it, err := s.db.Iterator(headerPrefix(c), append(headerPrefix(c), 0xff))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []RawHeader
	for ; it.Valid(); it.Next() {
		id, ok := parseHeaderKey(c, it.Key())
		if !ok {
			continue
		}
		payload := make([]byte, len(it.Value()))
		copy(payload, it.Value())
		out = append(out, RawHeader{ID: id, Payload: payload})
	}
	return out, it.Error()
}

func parseHeaderKey(c chain.Name, key []byte) (chain.BlockID, bool) {
	prefix := headerPrefix(c)
	if !bytes.HasPrefix(key, prefix) {
		return chain.BlockID{}, false
	}
	rest := string(key[len(prefix):])
	parts := bytes.SplitN([]byte(rest), []byte("|"), 2)
	if len(parts) != 2 {
		return chain.BlockID{}, false
	}
	var height uint64
	if _, err := fmt.Sscanf(string(parts[0]), "%020d", &height); err != nil {
		return chain.BlockID{}, false
	}
	hash, err := chain.HashFromHex(string(parts[1]))
	if err != nil {
		return chain.BlockID{}, false
	}
	return chain.BlockID{Height: height, Hash: hash}, true
}

// --- generic raw keyspace, used by the predicate registry ---

// PutRaw writes an arbitrary key/value pair outside the block/header/
// canonical keyspaces (the registry's "predicates" and "progress"
// column families build on this).
func (s *Store) PutRaw(key, value []byte) error { return s.db.SetSync(key, value) }

// GetRaw reads a raw key, returning (nil, false, nil) when absent.
func (s *Store) GetRaw(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// DeleteRaw removes a raw key.
func (s *Store) DeleteRaw(key []byte) error { return s.db.DeleteSync(key) }

// IterateRaw returns every value whose key starts with prefix.
func (s *Store) IterateRaw(prefix []byte) (map[string][]byte, error) {
	end := append(append([]byte{}, prefix...), 0xff)
	it, err := s.db.Iterator(prefix, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := map[string][]byte{}
	for ; it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			continue
		}
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		out[string(it.Key())] = v
	}
	return out, it.Error()
}
