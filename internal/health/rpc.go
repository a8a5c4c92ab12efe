package health

import (
	"context"

	"github.com/chainrelay/chainhooks/internal/upstream"
)

// RPCChecker combines health checks across every configured chain's
// upstream client.
type RPCChecker struct {
	clients map[string]upstream.BlockSource
}

// NewRPCChecker creates a checker for multiple chain upstream clients.
func NewRPCChecker(clients map[string]upstream.BlockSource) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Pings returns one probe per configured chain, each checking its
// upstream client via GetHeaderByHeight(0), for Checker.ChainPings.
func (c *RPCChecker) Pings() map[string]func(context.Context) error {
	out := make(map[string]func(context.Context) error, len(c.clients))
	for name, cli := range c.clients {
		cli := cli
		out[name] = func(ctx context.Context) error {
			_, err := cli.GetHeaderByHeight(ctx, 0)
			return err
		}
	}
	return out
}
