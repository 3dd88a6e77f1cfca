package cli

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/relay"
	"github.com/roach88/benchsync/internal/snapshot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// bench returns the global flags selecting a fresh database.
func bench(t *testing.T, replica string) []string {
	t.Helper()
	return []string{"--db", filepath.Join(t.TempDir(), replica+".db"), "--replica", replica}
}

func args(global []string, rest ...string) []string {
	return append(append([]string{}, global...), rest...)
}

// decodeData unmarshals the data field of a JSON response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func newRelay(t *testing.T) (*relay.Log, *httptest.Server) {
	t.Helper()
	log, err := relay.OpenLog(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	ts := httptest.NewServer(relay.NewServer(log).Handler())
	t.Cleanup(ts.Close)
	return log, ts
}

func TestPutGetList(t *testing.T) {
	g := bench(t, "front")

	out, err := execute(t, args(g, "--format", "json", "put", "stock", `{"id":"S1","name":"Battery","qty":4}`)...)
	require.NoError(t, err)
	var put PutResult
	decodeData(t, out, &put)
	require.Len(t, put.Entries, 1)
	assert.Equal(t, EntryRef{Seq: 1, ID: "S1", Op: "put"}, put.Entries[0])

	out, err = execute(t, args(g, "get", "stock", "S1")...)
	require.NoError(t, err)
	rec, err := model.DecodeRecord([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "Battery", rec.String("name"))
	assert.True(t, rec.Has(model.FieldUpdatedAt), "store stamps updatedAt")

	_, err = execute(t, args(g, "put", "stock", `[{"id":"S2"},{"id":"S3"}]`)...)
	require.NoError(t, err)

	out, err = execute(t, args(g, "list", "stock")...)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestPut_GeneratesMissingID(t *testing.T) {
	g := bench(t, "front")
	out, err := execute(t, args(g, "--format", "json", "put", "tickets", `{"status":"open"}`)...)
	require.NoError(t, err)

	var put PutResult
	decodeData(t, out, &put)
	require.Len(t, put.Entries, 1)
	assert.Len(t, put.Entries[0].ID, 36)
}

func TestPut_FromFileAndInvalidInput(t *testing.T) {
	g := bench(t, "front")
	path := filepath.Join(t.TempDir(), "stock.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"S1"},{"id":"S2"}]`), 0644))

	out, err := execute(t, args(g, "put", "stock", "--file", path)...)
	require.NoError(t, err)
	assert.Contains(t, out, "put S2 (seq 2)")

	_, err = execute(t, args(g, "put", "stock", `{not json`)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, args(g, "put", "widgets", `{"id":"W1"}`)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPut_LocalSuggestionsSkipOutbox(t *testing.T) {
	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "suggestions", `{"category":"brands","items":["Acme"]}`)...)
	require.NoError(t, err)

	out, err := execute(t, args(g, "get", "suggestions", "brands")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")

	out, err = execute(t, args(g, "--format", "json", "outbox")...)
	require.NoError(t, err)
	var ob OutboxResult
	decodeData(t, out, &ob)
	assert.Equal(t, 0, ob.Pending)
}

func TestDeleteThenGet(t *testing.T) {
	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "stock", `{"id":"S1"}`)...)
	require.NoError(t, err)
	_, err = execute(t, args(g, "delete", "stock", "S1")...)
	require.NoError(t, err)

	_, err = execute(t, args(g, "get", "stock", "S1")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeNotFound, ErrorCode(err))
}

func TestRename_Conflict(t *testing.T) {
	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "stock", `[{"id":"S1"},{"id":"S2"}]`)...)
	require.NoError(t, err)

	_, err = execute(t, args(g, "rename", "stock", "S1", "S2")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeConflict, ErrorCode(err))

	out, err := execute(t, args(g, "rename", "stock", "S1", "S9")...)
	require.NoError(t, err)
	assert.Contains(t, out, "delete S1")
	assert.Contains(t, out, "put S9")
}

func TestOutbox_ListsPending(t *testing.T) {
	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "stock", `[{"id":"S1"},{"id":"S2"},{"id":"S3"}]`)...)
	require.NoError(t, err)

	out, err := execute(t, args(g, "--format", "json", "outbox", "--limit", "2")...)
	require.NoError(t, err)
	var ob OutboxResult
	decodeData(t, out, &ob)
	assert.Equal(t, 3, ob.Pending)
	require.Len(t, ob.Entries, 2)
	assert.Equal(t, "front", ob.Entries[0].Origin)
}

func TestDrain_RequiresRemote(t *testing.T) {
	_, err := execute(t, args(bench(t, "front"), "drain")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDrain_UnreachableRemoteKeepsOutbox(t *testing.T) {
	_, ts := newRelay(t)
	url := ts.URL
	ts.Close()

	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "stock", `{"id":"S1"}`)...)
	require.NoError(t, err)

	out, err := execute(t, args(g, "--format", "json", "--remote", url, "drain")...)
	require.NoError(t, err, "an unreachable remote is not an error")
	var report DrainReport
	decodeData(t, out, &report)
	assert.False(t, report.Online)
	assert.Equal(t, 1, report.Pending)
}

func TestDrain_TwoReplicasConverge(t *testing.T) {
	log, ts := newRelay(t)
	a := bench(t, "front")
	b := bench(t, "back")

	_, err := execute(t, args(a, "put", "stock", `[{"id":"S1","qty":4,"updatedAt":10},{"id":"S2","updatedAt":10}]`)...)
	require.NoError(t, err)

	out, err := execute(t, args(a, "--format", "json", "--remote", ts.URL, "drain")...)
	require.NoError(t, err)
	var report DrainReport
	decodeData(t, out, &report)
	assert.Equal(t, DrainReport{Online: true, Sent: 2}, report)

	head, err := log.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)

	out, err = execute(t, args(b, "--format", "json", "--remote", ts.URL, "drain", "--pull")...)
	require.NoError(t, err)
	decodeData(t, out, &report)
	assert.Equal(t, 2, report.Applied)

	out, err = execute(t, args(b, "get", "stock", "S1")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"qty":4`)

	out, err = execute(t, args(b, "--format", "json", "outbox")...)
	require.NoError(t, err)
	var ob OutboxResult
	decodeData(t, out, &ob)
	assert.Equal(t, 0, ob.Pending, "applied changes are not re-queued")
}

func TestExportRestoreImport(t *testing.T) {
	src := bench(t, "front")
	_, err := execute(t, args(src, "put", "stock", `[{"id":"S1","qty":4,"updatedAt":10},{"id":"S2","updatedAt":10}]`)...)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "finance.json")
	_, err = execute(t, args(src, "export", "finance", "-o", file)...)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	snap, err := model.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Len(t, snap[model.Stock], 2)

	dst := bench(t, "back")
	_, err = execute(t, args(dst, "put", "stock", `{"id":"S9"}`)...)
	require.NoError(t, err)

	out, err := execute(t, args(dst, "--format", "json", "restore", "finance", file)...)
	require.NoError(t, err)
	var counts CountsReport
	decodeData(t, out, &counts)
	assert.Equal(t, 2, counts.Records)

	out, err = execute(t, args(dst, "list", "stock")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "S9", "restore replaces the type")

	out, err = execute(t, args(dst, "--format", "json", "outbox")...)
	require.NoError(t, err)
	var ob OutboxResult
	decodeData(t, out, &ob)
	assert.Equal(t, 0, ob.Pending, "restore clears the outbox")

	out, err = execute(t, args(dst, "--format", "json", "import", "finance", file)...)
	require.NoError(t, err)
	decodeData(t, out, &counts)
	assert.Equal(t, 0, counts.Records, "importing identical data writes nothing")
}

func TestExportArchiveAndRestoreFromArchive(t *testing.T) {
	t.Setenv("BENCHSYNC_BLOB_ROOT", filepath.Join(t.TempDir(), "archive"))
	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "stock", `{"id":"S1","updatedAt":10}`)...)
	require.NoError(t, err)

	out, err := execute(t, args(g, "--format", "json", "export", "finance", "--archive")...)
	require.NoError(t, err)
	var b snapshot.Backup
	decodeData(t, out, &b)
	assert.True(t, strings.HasPrefix(b.Key, "snapshots/finance/"))
	assert.Equal(t, "fs", b.Driver)

	out, err = execute(t, args(g, "--format", "json", "backups")...)
	require.NoError(t, err)
	var list []snapshot.Backup
	decodeData(t, out, &list)
	require.Len(t, list, 1)
	assert.Equal(t, b.Key, list[0].Key)

	_, err = execute(t, args(g, "delete", "stock", "S1")...)
	require.NoError(t, err)
	_, err = execute(t, args(g, "restore", "finance", "--from-archive", b.Key)...)
	require.NoError(t, err)

	out, err = execute(t, args(g, "get", "stock", "S1")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"S1"`)
}

func TestRestore_InvalidScope(t *testing.T) {
	_, err := execute(t, args(bench(t, "front"), "restore", "everything", "x.json")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := executeContext(ctx, t, args(bench(t, "front"), "run")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Replica running")
}

func TestRun_DrainsToRemote(t *testing.T) {
	log, ts := newRelay(t)
	g := bench(t, "front")
	_, err := execute(t, args(g, "put", "stock", `[{"id":"S1"},{"id":"S2"}]`)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, t, args(g, "--remote", ts.URL, "run")...)
		done <- err
	}()

	require.Eventually(t, func() bool {
		head, err := log.Head(context.Background())
		return err == nil && head == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := executeContext(ctx, t, "serve", "--addr", "127.0.0.1:0",
		"--relay-db", filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "Relay listening")
}

func TestDefaultReplica_ChangesWhenDatabaseRecreated(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")
	g := []string{"--db", db}

	origin := func() (string, int64) {
		t.Helper()
		_, err := execute(t, args(g, "put", "stock", `{"id":"S1"}`)...)
		require.NoError(t, err)
		out, err := execute(t, args(g, "--format", "json", "outbox")...)
		require.NoError(t, err)
		var ob OutboxResult
		decodeData(t, out, &ob)
		require.NotEmpty(t, ob.Entries)
		last := ob.Entries[len(ob.Entries)-1]
		return last.Origin, last.Seq
	}

	first, seq := origin()
	assert.Contains(t, first, ":shop:")
	again, _ := origin()
	assert.Equal(t, first, again, "reopening keeps the origin")

	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(db + suffix)
	}
	recreated, newSeq := origin()
	assert.Equal(t, seq, newSeq, "seqs restart in a new database")
	assert.NotEqual(t, first, recreated)
}
