package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/benchsync/internal/model"
)

func put(t model.EntityType, r model.Record) model.OutboxEntry {
	return model.OutboxEntry{EntityType: t, EntityID: r.ID(), Op: model.OpPut, Payload: r, Timestamp: r.UpdatedAt()}
}

func del(t model.EntityType, id string, at int64) model.OutboxEntry {
	return model.OutboxEntry{EntityType: t, EntityID: id, Op: model.OpDelete, Timestamp: at}
}

func TestResolve_PutOntoEmpty(t *testing.T) {
	var e Engine
	d := e.Resolve(nil, nil, put(model.Stock, model.Record{"id": "s", "updatedAt": 5}))
	assert.True(t, d.Changed)
	assert.False(t, d.Delete)
	assert.Equal(t, "s", d.Record.ID())
}

func TestResolve_ReplayIsUnchanged(t *testing.T) {
	var e Engine
	in := put(model.Stock, model.Record{"id": "s", "updatedAt": 5, "q": 1})

	first := e.Resolve(nil, nil, in)
	second := e.Resolve(first.Record, nil, in)
	assert.False(t, second.Changed, "applying the same entry twice must be a no-op")
}

func TestResolve_OlderPutIsUnchanged(t *testing.T) {
	var e Engine
	local := model.Record{"id": "s", "updatedAt": 9, "q": 2}
	d := e.Resolve(local, nil, put(model.Stock, model.Record{"id": "s", "updatedAt": 5, "q": 1}))
	assert.False(t, d.Changed)
}

func TestResolve_DeleteVersusEdit(t *testing.T) {
	var e Engine
	local := model.Record{"id": "s", "updatedAt": 10}

	t.Run("delete after edit wins", func(t *testing.T) {
		d := e.Resolve(local, nil, del(model.Stock, "s", 11))
		assert.True(t, d.Changed)
		assert.True(t, d.Delete)
		assert.Equal(t, int64(11), d.DeletedAt)
	})

	t.Run("tie favors delete", func(t *testing.T) {
		d := e.Resolve(local, nil, del(model.Stock, "s", 10))
		assert.True(t, d.Delete)
	})

	t.Run("edit after delete survives", func(t *testing.T) {
		d := e.Resolve(local, nil, del(model.Stock, "s", 9))
		assert.False(t, d.Changed)
	})
}

func TestResolve_TombstoneBlocksResurrection(t *testing.T) {
	var e Engine
	tomb := &model.Tombstone{EntityType: model.Stock, EntityID: "s", DeletedAt: 10}

	d := e.Resolve(nil, tomb, put(model.Stock, model.Record{"id": "s", "updatedAt": 8}))
	assert.False(t, d.Changed, "stale edit must not resurrect a deleted record")

	d = e.Resolve(nil, tomb, put(model.Stock, model.Record{"id": "s", "updatedAt": 10}))
	assert.False(t, d.Changed, "tie favors the delete")

	d = e.Resolve(nil, tomb, put(model.Stock, model.Record{"id": "s", "updatedAt": 12}))
	assert.True(t, d.Changed)
	assert.Equal(t, "s", d.Record.ID())
}

func TestResolve_DuplicateDeleteIsUnchanged(t *testing.T) {
	var e Engine
	tomb := &model.Tombstone{EntityType: model.Stock, EntityID: "s", DeletedAt: 10}
	assert.False(t, e.Resolve(nil, tomb, del(model.Stock, "s", 10)).Changed)
	assert.True(t, e.Resolve(nil, tomb, del(model.Stock, "s", 11)).Changed)
	assert.True(t, e.Resolve(nil, nil, del(model.Stock, "s", 1)).Changed)
}
