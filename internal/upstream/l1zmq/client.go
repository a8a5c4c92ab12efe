// Package l1zmq implements the L1 block source over a WebSocket push
// feed, grounded on the teacher's own websocket-indirect dependency
// stack and on the Streamer subscription shape observed in the
// retrieved watcher corpus. Block producers emit a header every time
// they accept a new block (or roll one back); consumers de-duplicate
// through the fork graph, not through the transport.
package l1zmq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/upstream"
)

// wireHeader is the upstream's JSON header frame.
type wireHeader struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  uint64 `json:"timestamp"`
}

// Client subscribes to an L1 node's block-announcement feed and
// serves point lookups over plain HTTP RPC.
type Client struct {
	subscribeURL string
	rpcURL       string
	httpClient   *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(subscribeURL, rpcURL string) *Client {
	return &Client{
		subscribeURL: subscribeURL,
		rpcURL:       rpcURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Subscribe(ctx context.Context) (<-chan chain.Header, <-chan error) {
	headers := make(chan chain.Header, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(headers)
		defer close(errs)

		dialer := websocket.Dialer{}
		conn, _, err := dialer.DialContext(ctx, c.subscribeURL, nil)
		if err != nil {
			errs <- fmt.Errorf("l1zmq: dial %s: %w", c.subscribeURL, err)
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		defer conn.Close()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			var raw wireHeader
			if err := conn.ReadJSON(&raw); err != nil {
				select {
				case errs <- fmt.Errorf("l1zmq: read: %w", err):
				default:
				}
				return
			}
			h, err := decodeHeader(raw)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				continue
			}
			select {
			case headers <- h:
			case <-ctx.Done():
				return
			}
		}
	}()

	return headers, errs
}

// GetBlock fetches a full block body as msgpack bytes, the same way
// the teacher's algorand scanner fetches and decodes raw blocks.
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
		return chain.Header{}, fmt.Errorf("l1zmq: unmarshal header: %w", err)
	}
	return decodeHeader(raw)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("l1zmq: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("l1zmq: request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("l1zmq: %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("l1zmq: read response: %w", err)
	}
	return body, nil
}

func decodeHeader(raw wireHeader) (chain.Header, error) {
	hash, err := chain.HashFromHex(raw.Hash)
	if err != nil {
		return chain.Header{}, fmt.Errorf("l1zmq: bad hash: %w", err)
	}
	parent, err := chain.HashFromHex(raw.ParentHash)
	if err != nil {
		return chain.Header{}, fmt.Errorf("l1zmq: bad parent hash: %w", err)
	}
	return chain.Header{
		ID:         chain.BlockID{Height: raw.Height, Hash: hash},
		ParentHash: parent,
		Timestamp:  raw.Timestamp,
	}, nil
}
