// Package forkgraph maintains the in-memory DAG of recently seen
// headers for one chain and computes the apply/rollback edit needed
// to move the canonical view from the current tip to a newly ingested
// header, per spec §4.B.
package forkgraph

import (
	"errors"
	"sync"

	"github.com/chainrelay/chainhooks/internal/chain"
)

// DefaultWindow is the number of most-recent headers retained per
// chain (spec §3, "default: last 256 headers").
const DefaultWindow = 256

// CanonicityRule orders two candidate tips and reports whether b
// should replace a as canonical. It implements the chain's tie-break:
// greatest height first, then the chain-specific tie-break for equal
// height (spec §4.B).
type CanonicityRule func(a, b chain.Header) bool

// HeightHashTieBreak is the deterministic L1 fallback: higher height
// wins; ties broken by the lexicographically smaller hash.
func HeightHashTieBreak(a, b chain.Header) bool {
	if a.ID.Height != b.ID.Height {
		return b.ID.Height > a.ID.Height
	}
	for i := range a.ID.Hash {
		if a.ID.Hash[i] != b.ID.Hash[i] {
			return b.ID.Hash[i] < a.ID.Hash[i]
		}
	}
	return false
}

// EarliestSeenTieBreak is the L2 rule: higher height wins; ties
// broken by whichever header this graph observed first (spec §4.B,
// "earlier-seen hash for L2 where PoX anchoring applies"). The
// upstream node's own tip selection is authoritative for genuine
// equal-weight forks (spec §9 open question); this graph only applies
// the rule to headers it itself ingested in order.
func EarliestSeenTieBreak(a, b chain.Header) bool {
	return b.ID.Height > a.ID.Height
}

var ErrUnknownHeader = errors.New("forkgraph: header not found in retained window")

// Graph is the DAG of recently retained headers for a single chain.
// One Graph is owned exclusively by its chain's coordinator (spec §5).
type Graph struct {
	mu     sync.Mutex
	rule   CanonicityRule
	window int

	byHash map[chain.Hash]chain.Header

	tip chain.Header
	has bool
}

// New builds an empty fork graph. window <= 0 uses DefaultWindow.
func New(rule CanonicityRule, window int) *Graph {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Graph{
		rule:   rule,
		window: window,
		byHash: make(map[chain.Hash]chain.Header),
	}
}

// Seed rehydrates the graph from persisted headers after a restart
// (SPEC_FULL §4.B supplement), oldest first.
func (g *Graph) Seed(headers []chain.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, h := range headers {
		g.insertLocked(h)
		if !g.has || g.rule(g.tip, h) {
			g.tip = h
			g.has = true
		}
	}
}

// Tip returns the current canonical BlockID.
func (g *Graph) Tip() chain.BlockID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tip.ID
}

func (g *Graph) insertLocked(h chain.Header) {
	if _, exists := g.byHash[h.ID.Hash]; exists {
		return
	}
	g.byHash[h.ID.Hash] = h
	g.evictLocked()
}

// evictLocked drops headers whose height falls more than window below
// the tip, per spec §3 ("evicted... when distance-from-tip exceeds the
// reorg window").
func (g *Graph) evictLocked() {
	if !g.has || len(g.byHash) <= g.window {
		return
	}
	floor := uint64(0)
	if g.tip.ID.Height > uint64(g.window) {
		floor = g.tip.ID.Height - uint64(g.window)
	}
	for hash, h := range g.byHash {
		if h.ID.Height < floor && hash != g.tip.ID.Hash {
			delete(g.byHash, hash)
		}
	}
}

// Ingest inserts h into the DAG and returns the ChainEdit needed to
// move the canonical view from the previous tip to the new one (spec
// §4.B). If h does not extend anything the graph knows about, it is
// still retained (it may be the root of a branch that later catches
// up), and the edit reflects canonicity against the existing tip.
func (g *Graph) Ingest(h chain.Header) chain.Edit {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.insertLocked(h)

	if !g.has {
		g.tip = h
		g.has = true
		return chain.Edit{Directives: []chain.Directive{{Kind: chain.Apply, ID: h.ID}}, NewTip: h.ID}
	}

	oldTip := g.tip
	if oldTip.ID.Hash == h.ID.Hash {
		return chain.Edit{NewTip: oldTip.ID}
	}

	newTip := h
	if !g.preferLocked(newTip) {
		newTip = oldTip
	}
	if newTip.ID.Hash == oldTip.ID.Hash {
		return chain.Edit{NewTip: oldTip.ID}
	}

	directives, divergent := g.computeEditLocked(oldTip, newTip)
	g.tip = newTip
	g.evictLocked()
	return chain.Edit{Directives: directives, NewTip: newTip.ID, Divergent: divergent}
}

// preferLocked reports whether candidate should become canonical over
// the current tip, per the configured CanonicityRule. Since g.tip is
// always the header this graph accepted first among those retained at
// its height, delegating directly to the rule is enough to give
// EarliestSeenTieBreak its "first observed wins" semantics too: it
// returns false on equal height, so a later-arriving sibling never
// displaces the tip.
func (g *Graph) preferLocked(candidate chain.Header) bool {
	return g.rule(g.tip, candidate)
}

// computeEditLocked walks both tips back to their lowest common
// ancestor and returns Rollback directives (tip-first) followed by
// Apply directives (ancestor-first), per spec §4.B.
func (g *Graph) computeEditLocked(oldTip, newTip chain.Header) ([]chain.Directive, bool) {
	oldPath, okOld := g.pathToKnownAncestorLocked(oldTip)
	newPath, okNew := g.pathToKnownAncestorLocked(newTip)
	if !okOld || !okNew {
		return g.divergentEditLocked(oldTip, newTip), true
	}

	ancestor, ok := commonAncestor(oldPath, newPath)
	if !ok {
		return g.divergentEditLocked(oldTip, newTip), true
	}

	var directives []chain.Directive
	for _, h := range oldPath {
		if h.ID.Hash == ancestor {
			break
		}
		directives = append(directives, chain.Directive{Kind: chain.Rollback, ID: h.ID})
	}
	var applies []chain.Directive
	for _, h := range newPath {
		if h.ID.Hash == ancestor {
			break
		}
		applies = append(applies, chain.Directive{Kind: chain.Apply, ID: h.ID})
	}
	for i := len(applies) - 1; i >= 0; i-- {
		directives = append(directives, applies[i])
	}
	return directives, false
}

// pathToKnownAncestorLocked walks parent links from h back through
// the retained window, tip-first. ok is false if the walk runs off
// the retained set before terminating (divergent fork).
func (g *Graph) pathToKnownAncestorLocked(h chain.Header) ([]chain.Header, bool) {
	path := []chain.Header{h}
	cur := h
	for i := 0; i < g.window+1; i++ {
		if cur.ParentHash.IsZero() {
			return path, true
		}
		parent, ok := g.byHash[cur.ParentHash]
		if !ok {
			return path, false
		}
		path = append(path, parent)
		cur = parent
	}
	return path, false
}

func commonAncestor(oldPath, newPath []chain.Header) (chain.Hash, bool) {
	newSet := make(map[chain.Hash]struct{}, len(newPath))
	for _, h := range newPath {
		newSet[h.ID.Hash] = struct{}{}
	}
	for _, h := range oldPath {
		if _, ok := newSet[h.ID.Hash]; ok {
			return h.ID.Hash, true
		}
	}
	return chain.Hash{}, false
}

// divergentEditLocked produces the best-effort edit when no common
// ancestor was found within the window: roll back everything on the
// old path and apply everything known on the new path. The caller
// must treat this edit as Divergent and restart from an earlier
// confirmed height via the scanner (spec §4.B, §7 ForkDivergent).
func (g *Graph) divergentEditLocked(oldTip, newTip chain.Header) []chain.Directive {
	oldPath, _ := g.pathToKnownAncestorLocked(oldTip)
	newPath, _ := g.pathToKnownAncestorLocked(newTip)

	var directives []chain.Directive
	for _, h := range oldPath {
		directives = append(directives, chain.Directive{Kind: chain.Rollback, ID: h.ID})
	}
	for i := len(newPath) - 1; i >= 0; i-- {
		directives = append(directives, chain.Directive{Kind: chain.Apply, ID: newPath[i].ID})
	}
	return directives
}
