package l2http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
)

const (
	hexHashA = "aa00000000000000000000000000000000000000000000000000000000000000"
	hexHashB = "bb00000000000000000000000000000000000000000000000000000000000000"
)

func TestGetHeaderByHeightWithAnchor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/header/7", r.URL.Path)
		raw := wireHeader{Height: 7, Hash: hexHashA, ParentHash: hexHashB, Timestamp: 42}
		raw.L1Anchor.Height = 100
		raw.L1Anchor.Hash = hexHashA
		_ = json.NewEncoder(w).Encode(raw)
	}))
	defer srv.Close()

	c := New(srv.URL)
	h, err := c.GetHeaderByHeight(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, h.L1Anchor)
	assert.Equal(t, uint64(100), h.L1Anchor.Height)
}

func TestTipAndSubscribeEmitsOnNewHeight(t *testing.T) {
	height := uint64(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireHeader{Height: height, Hash: hexHashA, ParentHash: hexHashB})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	headers, errs := c.Subscribe(ctx)
	select {
	case h := <-headers:
		assert.Equal(t, uint64(1), h.ID.Height)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for header")
	}
}

func TestSubscribeSkipsRepeatedHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireHeader{Height: 5, Hash: hexHashA, ParentHash: hexHashB})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	headers, _ := c.Subscribe(ctx)
	count := 0
	for range headers {
		count++
	}
	assert.Equal(t, 1, count, "a tip that never advances should only be emitted once")
}

func TestGetBlockNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetBlock(context.Background(), chain.BlockID{Height: 1})
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsBadAnchorHash(t *testing.T) {
	raw := wireHeader{Hash: hexHashA, ParentHash: hexHashB}
	raw.L1Anchor.Hash = "not-hex"
	_, err := decodeHeader(raw)
	assert.Error(t, err)
}
