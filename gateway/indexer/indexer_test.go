package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")

const testTx = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{Endpoint: srv.URL, APIKey: "key", Timeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestCreationTxFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req graphRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Contains(t, req.Query, "newTokenEvents")
		require.Equal(t, "0x00000000000000000000000000000000000000aa", req.Variables["token"])
		_, _ = w.Write([]byte(`{"data":{"newTokenEvents":[{"transactionHash":"` + testTx + `"}]}}`))
	})

	hash, err := client.CreationTx(context.Background(), testToken)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash(testTx), hash)
}

func TestCreationTxEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"newTokenEvents":[]}}`))
	})

	_, err := client.CreationTx(context.Background(), testToken)
	require.ErrorIs(t, err, ErrNoCreationTx)
}

func TestCreationTxFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		},
		"graphql error": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
		},
		"invalid json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
		"malformed hash": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"newTokenEvents":[{"transactionHash":"0x1234"}]}}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			_, err := client.CreationTx(context.Background(), testToken)
			require.Error(t, err)
			require.False(t, errors.Is(err, ErrNoCreationTx))
		})
	}
}

func TestCreationTxTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = client.CreationTx(context.Background(), testToken)
	require.Error(t, err)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
