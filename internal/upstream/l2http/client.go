// Package l2http implements the L2 block source as an event-observer
// HTTP poller, grounded on the teacher's evm Scanner.ProcessNext
// polling loop: fetch the tip, walk forward one header at a time.
package l2http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/upstream"
)

type wireHeader struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  uint64 `json:"timestamp"`
	L1Anchor   struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
	} `json:"l1_anchor"`
}

// Client polls an L2 node's HTTP API for new headers.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	interval   time.Duration
}

func New(rpcURL string) *Client {
	return &Client{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		interval:   2 * time.Second,
	}
}

// Subscribe polls /tip on a fixed interval, emitting one header per
// new tip observed. Like the L1 WebSocket feed, delivery is at least once, not
// strictly ordered across restarts.
func (c *Client) Subscribe(ctx context.Context) (<-chan chain.Header, <-chan error) {
	headers := make(chan chain.Header, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(headers)
		defer close(errs)

		var lastHeight uint64
		var seen bool
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			tip, err := c.tip(ctx)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				continue
			}
			if seen && tip.ID.Height <= lastHeight {
				continue
			}
			seen = true
			lastHeight = tip.ID.Height

			select {
			case headers <- tip:
			case <-ctx.Done():
				return
			}
		}
	}()

	return headers, errs
}

func (c *Client) tip(ctx context.Context) (chain.Header, error) {
	body, err := c.get(ctx, c.rpcURL+"/tip")
	if err != nil {
		return chain.Header{}, err
	}
	var raw wireHeader
	if err := json.Unmarshal(body, &raw); err != nil {
		return chain.Header{}, fmt.Errorf("l2http: unmarshal tip: %w", err)
	}
	return decodeHeader(raw)
}

// GetBlock fetches a full block body as msgpack bytes.
func (c *Client) GetBlock(ctx context.Context, id chain.BlockID) (upstream.RawBlock, error) {
	url := fmt.Sprintf("%s/block/%s", c.rpcURL, id.Hash.String())
	body, err := c.get(ctx, url)
	if err != nil {
		return upstream.RawBlock{}, err
	}
	return upstream.RawBlock{Payload: body}, nil
}

func (c *Client) GetHeaderByHeight(ctx context.Context, height uint64) (chain.Header, error) {
	url := fmt.Sprintf("%s/header/%d", c.rpcURL, height)
	body, err := c.get(ctx, url)
	if err != nil {
		return chain.Header{}, err
	}
	var raw wireHeader
	if err := json.Unmarshal(body, &raw); err != nil {
		return chain.Header{}, fmt.Errorf("l2http: unmarshal header: %w", err)
	}
	return decodeHeader(raw)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("l2http: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("l2http: request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("l2http: %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("l2http: read response: %w", err)
	}
	return body, nil
}

func decodeHeader(raw wireHeader) (chain.Header, error) {
	hash, err := chain.HashFromHex(raw.Hash)
	if err != nil {
		return chain.Header{}, fmt.Errorf("l2http: bad hash: %w", err)
	}
	parent, err := chain.HashFromHex(raw.ParentHash)
	if err != nil {
		return chain.Header{}, fmt.Errorf("l2http: bad parent hash: %w", err)
	}
	h := chain.Header{
		ID:         chain.BlockID{Height: raw.Height, Hash: hash},
		ParentHash: parent,
		Timestamp:  raw.Timestamp,
	}
	if raw.L1Anchor.Hash != "" {
		anchorHash, err := chain.HashFromHex(raw.L1Anchor.Hash)
		if err != nil {
			return chain.Header{}, fmt.Errorf("l2http: bad l1 anchor hash: %w", err)
		}
		h.L1Anchor = &chain.BlockID{Height: raw.L1Anchor.Height, Hash: anchorHash}
	}
	return h, nil
}
