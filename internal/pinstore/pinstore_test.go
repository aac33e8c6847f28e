package pinstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medblocks/medvault/pkg/faults"
)

func newTestClient(t *testing.T, apiBase, gateway string) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:    "key",
		SecretKey: "secret",
		APIBase:   apiBase,
		Gateway:   gateway,
		Backoff:   time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestUploadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("pinata_api_key"))
		require.Equal(t, "secret", r.Header.Get("pinata_secret_api_key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, `{"cidVersion":1}`, r.FormValue("pinataOptions"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		w.Write([]byte(`{"IpfsHash":"bafytestcid"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	cid, err := c.Upload(context.Background(), []byte("ciphertext"), "blob")
	require.NoError(t, err)
	assert.Equal(t, "bafytestcid", cid)
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"IpfsHash":"bafyafterretry"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	cid, err := c.Upload(context.Background(), []byte("x"), "blob")
	require.NoError(t, err)
	assert.Equal(t, "bafyafterretry", cid)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.Upload(context.Background(), []byte("x"), "blob")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.Upload(context.Background(), []byte("x"), "blob")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
	assert.Contains(t, err.Error(), "401")
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ipfs/bafycid", r.URL.Path)
		w.Write([]byte("sealed bytes"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	data, err := c.Fetch(context.Background(), "bafycid")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed bytes"), data)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.Fetch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrContentNotFound))
}

func TestFetchEmptyBodyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.Fetch(context.Background(), "empty")
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrContentNotFound))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
