package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/uow/internal/docstore"
)

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

func TestEncodeDocument_SetsIDFirst(t *testing.T) {
	body, err := encodeDocument(docstore.Document{ID: "r1", Value: record{ID: "r1", Name: "x", Rank: 2}})
	require.NoError(t, err)

	require.NotEmpty(t, body)
	assert.Equal(t, bson.E{Key: "_id", Value: "r1"}, body[0])
	assert.Equal(t, "x", body.Map()["name"])
}

func TestEncodeDocument_RoundTrip(t *testing.T) {
	body, err := encodeDocument(docstore.Document{ID: "r1", Value: record{ID: "r1", Name: "x", Rank: 7}})
	require.NoError(t, err)
	raw, err := bson.Marshal(body)
	require.NoError(t, err)

	var got record
	require.NoError(t, decodeRaw(raw, &got))
	assert.Equal(t, record{ID: "r1", Name: "x", Rank: 7}, got)
}

func TestFilterFor(t *testing.T) {
	filter, err := filterFor(nil)
	require.NoError(t, err)
	assert.Empty(t, filter)

	filter, err = filterFor(map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "name", Value: "x"}}, filter)
}

func TestSortFor_AppendsIDTiebreak(t *testing.T) {
	got := sortFor([]docstore.SortField{{Field: "number", Descending: true}})
	assert.Equal(t, bson.D{{Key: "number", Value: -1}, {Key: "_id", Value: 1}}, got)
}

func TestTransactionOptions(t *testing.T) {
	plain := transactionOptions(docstore.SessionOptions{})
	assert.Nil(t, plain.ReadConcern)
	assert.Nil(t, plain.WriteConcern)
	assert.Nil(t, plain.MaxCommitTime)

	strict := transactionOptions(docstore.SessionOptions{Majority: true, MaxCommitTime: 10 * time.Minute})
	require.NotNil(t, strict.ReadConcern)
	assert.Equal(t, "majority", strict.ReadConcern.Level)
	require.NotNil(t, strict.WriteConcern)
	assert.Equal(t, "majority", strict.WriteConcern.W)
	require.NotNil(t, strict.MaxCommitTime)
	assert.Equal(t, 10*time.Minute, *strict.MaxCommitTime)
}
