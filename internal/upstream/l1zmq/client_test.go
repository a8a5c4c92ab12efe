package l1zmq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
)

const (
	hexHashA = "aa00000000000000000000000000000000000000000000000000000000000000"
	hexHashB = "bb00000000000000000000000000000000000000000000000000000000000000"
)

func TestGetHeaderByHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/header/100", r.URL.Path)
		_ = json.NewEncoder(w).Encode(wireHeader{
			Height:     100,
			Hash:       hexHashA[:64],
			ParentHash: hexHashB[:64],
			Timestamp:  123,
		})
	}))
	defer srv.Close()

	c := New("", srv.URL)
	h, err := c.GetHeaderByHeight(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h.ID.Height)
	assert.Equal(t, uint64(123), h.Timestamp)
}

func TestGetBlockReturnsRawPayload(t *testing.T) {
	var id chain.Hash
	id[0] = 1
	want := []byte(`{"foo":"bar"}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(want)
	}))
	defer srv.Close()

	c := New("", srv.URL)
	rb, err := c.GetBlock(context.Background(), chain.BlockID{Height: 100, Hash: id})
	require.NoError(t, err)
	assert.Equal(t, want, rb.Payload)
}

func TestGetHeaderByHeightNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("", srv.URL)
	_, err := c.GetHeaderByHeight(context.Background(), 1)
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsBadHash(t *testing.T) {
	_, err := decodeHeader(wireHeader{Hash: "not-hex", ParentHash: "00"})
	assert.Error(t, err)
}
