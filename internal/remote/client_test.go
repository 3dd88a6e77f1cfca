package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/model"
)

func TestNewClient_RejectsBadScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com", "a")
	assert.Error(t, err)
}

func TestClient_PushBatchSendsOriginAndEntries(t *testing.T) {
	var got BatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathBatch, r.URL.Path)
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "replica-a")
	require.NoError(t, err)
	require.NoError(t, c.PushBatch(context.Background(), []model.OutboxEntry{entry(1, "s1")}))

	assert.Equal(t, "replica-a", got.Origin)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "s1", got.Entries[0].EntityID)
}

func TestClient_PushBatchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "a")
	require.NoError(t, err)
	err = c.PushBatch(context.Background(), nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Equal(t, "disk full", se.Body)
}

func TestClient_ChangesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathChanges, r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("since"))
		assert.Equal(t, "replica-a", r.URL.Query().Get("replica"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[{"seq":3,"timestamp":5,"entityType":"stock","entityId":"s1","op":"put","payload":{"id":"s1","updatedAt":5,"price":1.50},"origin":"b"}],"checkpoint":9}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "replica-a")
	require.NoError(t, err)
	cs, err := c.Changes(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(9), cs.Checkpoint)
	require.Len(t, cs.Entries, 1)
	assert.Equal(t, json.Number("1.50"), cs.Entries[0].Payload["price"], "numbers keep their text")
}

func TestClient_Ping(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "a")
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))

	healthy.Store(false)
	assert.Error(t, c.Ping(context.Background()))
}

func TestClient_WatchURL(t *testing.T) {
	c, err := NewClient("https://relay.example.com/base", "a")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/base/v1/watch", c.WatchURL())

	c, err = NewClient("http://localhost:8080", "a")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/watch", c.WatchURL())
}
