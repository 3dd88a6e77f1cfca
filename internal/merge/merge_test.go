package merge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/model"
)

func rec(t *testing.T, s string) model.Record {
	t.Helper()
	r, err := model.DecodeRecord([]byte(s))
	require.NoError(t, err)
	return r
}

func canonical(t *testing.T, r model.Record) string {
	t.Helper()
	data, err := model.MarshalCanonical(r)
	require.NoError(t, err)
	return string(data)
}

func TestMerge_OneSideAbsent(t *testing.T) {
	var e Engine
	a := model.Record{"id": "s1", "updatedAt": 5}

	assert.Equal(t, a, e.Merge(model.Stock, a, nil))
	assert.Equal(t, a, e.Merge(model.Stock, nil, a))
	assert.Nil(t, e.Merge(model.Stock, nil, nil))

	out := e.Merge(model.Stock, nil, a)
	out["name"] = "changed"
	assert.False(t, a.Has("name"), "result must be a copy")
}

func TestMerge_NewerWinsEntirely(t *testing.T) {
	var e Engine
	older := rec(t, `{"id":"s1","updatedAt":10,"name":"old","qty":1}`)
	newer := rec(t, `{"id":"s1","updatedAt":20,"name":"new"}`)

	got := e.Merge(model.Stock, older, newer)
	assert.Equal(t, canonical(t, newer), canonical(t, got))
	assert.False(t, got.Has("qty"), "last writer wins on the whole record")

	got = e.Merge(model.Stock, newer, older)
	assert.Equal(t, canonical(t, newer), canonical(t, got))
}

func TestMerge_EqualTimestampsDeterministic(t *testing.T) {
	a := rec(t, `{"id":"s1","updatedAt":10,"name":"a"}`)
	b := rec(t, `{"id":"s1","updatedAt":10,"name":"b"}`)

	var e Engine
	ab := e.Merge(model.Stock, a, b)
	ba := e.Merge(model.Stock, b, a)
	assert.Equal(t, canonical(t, ab), canonical(t, ba), "digest tie-break is symmetric")

	remote := Engine{TieBreak: TieBreakRemote}
	assert.Equal(t, "b", remote.Merge(model.Stock, a, b).String("name"))
	assert.Equal(t, "a", remote.Merge(model.Stock, b, a).String("name"))
}

func TestMerge_Idempotent(t *testing.T) {
	cases := []struct {
		name   string
		typ    model.EntityType
		local  string
		remote string
	}{
		{"stock newer remote", model.Stock, `{"id":"s","updatedAt":1,"q":1}`, `{"id":"s","updatedAt":2,"q":2}`},
		{"stock newer local", model.Stock, `{"id":"s","updatedAt":3,"q":1}`, `{"id":"s","updatedAt":2,"q":2}`},
		{"stock tie", model.Stock, `{"id":"s","updatedAt":2,"q":1}`, `{"id":"s","updatedAt":2,"q":2}`},
		{
			"ticket diverged", model.Tickets,
			`{"id":"t","updatedAt":20,"history":[{"timestamp":10,"action":"open"},{"timestamp":20,"action":"a"}],"technicianNotes":"left","customFields":{"x":1}}`,
			`{"id":"t","updatedAt":15,"history":[{"timestamp":10,"action":"open"},{"timestamp":15,"action":"b"}],"technicianNotes":"right","customFields":{"y":2}}`,
		},
		{
			"ticket tie", model.Tickets,
			`{"id":"t","updatedAt":20,"status":"x","history":[{"timestamp":10,"action":"one"}]}`,
			`{"id":"t","updatedAt":20,"status":"y","history":[{"timestamp":10,"action":"two"}]}`,
		},
	}

	for _, tb := range []TieBreak{TieBreakDigest, TieBreakRemote} {
		e := Engine{TieBreak: tb}
		for _, tc := range cases {
			t.Run(tb.String()+"/"+tc.name, func(t *testing.T) {
				local, remote := rec(t, tc.local), rec(t, tc.remote)
				once := e.Merge(tc.typ, local, remote)
				twice := e.Merge(tc.typ, once, remote)
				assert.Equal(t, canonical(t, once), canonical(t, twice))
			})
		}
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	var e Engine
	local := rec(t, `{"id":"t","updatedAt":20,"history":[{"timestamp":20,"action":"a"}],"client":{"customFields":{"a":1}}}`)
	remote := rec(t, `{"id":"t","updatedAt":10,"history":[{"timestamp":10,"action":"b"}],"client":{"customFields":{"b":2}}}`)
	before := canonical(t, local) + canonical(t, remote)

	_ = e.Merge(model.Tickets, local, remote)
	assert.Equal(t, before, canonical(t, local)+canonical(t, remote))
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakDigest, tb)

	tb, err = ParseTieBreak("remote")
	require.NoError(t, err)
	assert.Equal(t, TieBreakRemote, tb)

	_, err = ParseTieBreak("newest")
	assert.Error(t, err)
}

func TestMerge_PreservesNumberPrecision(t *testing.T) {
	var e Engine
	local := rec(t, `{"id":"s","updatedAt":1,"serial":9007199254740993}`)
	remote := rec(t, `{"id":"s","updatedAt":2,"serial":9007199254740995}`)
	got := e.Merge(model.Stock, local, remote)
	assert.Equal(t, json.Number("9007199254740995"), got["serial"])
}
