package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/academe-app/academe/internal/backend"
)

func TestToDocument(t *testing.T) {
	t.Parallel()

	d := toDocument(bson.M{"_id": "u1", "name": "A", "blocked": false})
	assert.Equal(t, "u1", d.ID)
	assert.Equal(t, map[string]any{"name": "A", "blocked": false}, d.Fields)

	// Non-string _id (or none at all) yields an empty ID, never a panic.
	d = toDocument(bson.M{"name": "B"})
	assert.Empty(t, d.ID)
	assert.Equal(t, map[string]any{"name": "B"}, d.Fields)
}

func TestFilterOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bson.M{}, filterOf(backend.Query{Collection: "faculty"}))
	assert.Equal(t, bson.M{"uid": "u1"},
		filterOf(backend.Query{Collection: "grades", Field: "uid", Equals: "u1"}))
}

func TestBulkModels(t *testing.T) {
	t.Parallel()

	writes := []backend.Write{
		{Collection: "faculty", ID: "f1", Fields: map[string]any{"name": "Dr. A"}},
		{Collection: "courses", ID: "c1", Fields: map[string]any{"code": "CS301"}},
		{Collection: "faculty", ID: "f2", Delete: true},
	}

	byColl := bulkModels(writes)
	require.Len(t, byColl, 2)
	require.Len(t, byColl["faculty"], 2)
	require.Len(t, byColl["courses"], 1)

	rep, ok := byColl["faculty"][0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"_id": "f1"}, rep.Filter)
	assert.Equal(t, bson.M{"_id": "f1", "name": "Dr. A"}, rep.Replacement)
	require.NotNil(t, rep.Upsert)
	assert.True(t, *rep.Upsert)

	del, ok := byColl["faculty"][1].(*mongo.DeleteOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"_id": "f2"}, del.Filter)

	rep, ok = byColl["courses"][0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"_id": "c1", "code": "CS301"}, rep.Replacement)
}

func TestBulkModels_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, bulkModels(nil))
}
