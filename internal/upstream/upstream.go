// Package upstream defines the block-source contract of spec §9
// ("Upstream node interface (consumed)") and its two concrete
// transports: a WebSocket push feed for L1 and an HTTP event-observer
// poller for L2. Both deliver headers at least once, not in order.
package upstream

import (
	"context"

	"github.com/chainrelay/chainhooks/internal/chain"
)

// RawBlock is an upstream-format block payload: msgpack bytes callers
// decode into a chainl1.Block or chainl2.Block once they know the
// chain kind, via that package's DecodeBlock.
type RawBlock struct {
	Payload []byte
}

// BlockSource is the block-source trait spec §9 requires of both L1
// and L2 upstream clients.
type BlockSource interface {
	// Subscribe streams headers as they arrive. It does not guarantee
	// order or exactly-once delivery; callers de-duplicate via the
	// fork graph.
	Subscribe(ctx context.Context) (<-chan chain.Header, <-chan error)
	GetBlock(ctx context.Context, id chain.BlockID) (RawBlock, error)
	GetHeaderByHeight(ctx context.Context, height uint64) (chain.Header, error)
}
