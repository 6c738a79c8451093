package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/docstore"
)

type doc struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openSession(t *testing.T, s *Store) docstore.Session {
	t.Helper()
	sess, err := s.StartSession(context.Background(), docstore.SessionOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { sess.EndSession(context.Background()) })
	return sess
}

func collect(t *testing.T, c docstore.Collection, q docstore.Query) []doc {
	t.Helper()
	ctx := context.Background()
	cur, err := c.Find(ctx, q)
	require.NoError(t, err)
	defer cur.Close(ctx)
	var out []doc
	for cur.Next(ctx) {
		var d doc
		require.NoError(t, cur.Decode(&d))
		out = append(out, d)
	}
	require.NoError(t, cur.Err())
	return out
}

func TestBulkUpsert_InsertsAndReplaces(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := openSession(t, s).Collection("doc")

	require.NoError(t, c.BulkUpsert(ctx, []docstore.Document{
		{ID: "a", Value: doc{ID: "a", Name: "alpha"}},
		{ID: "b", Value: doc{ID: "b", Name: "beta"}},
	}))
	require.NoError(t, c.BulkUpsert(ctx, []docstore.Document{
		{ID: "a", Value: doc{ID: "a", Name: "alpha2"}},
	}))

	assert.Equal(t, 2, s.Len("doc"))
	var got doc
	ok, err := s.Get("doc", "a", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha2", got.Name)

	journal := s.Journal()
	require.Len(t, journal, 2)
	assert.Equal(t, []string{"a", "b"}, journal[0].IDs)
	assert.False(t, journal[0].Transactional)
}

func TestBulkUpsert_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := openSession(t, s)

	err := sess.Collection("bad name").BulkUpsert(ctx, []docstore.Document{{ID: "a", Value: doc{}}})
	assert.ErrorIs(t, err, docstore.ErrInvalidCollection)

	err = sess.Collection("doc").BulkUpsert(ctx, []docstore.Document{{Value: doc{}}})
	assert.ErrorIs(t, err, docstore.ErrEmptyID)
	assert.Equal(t, 0, s.Len("doc"))
}

func TestTransaction_CommitAppliesBufferedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := openSession(t, s)
	c := sess.Collection("doc")

	require.NoError(t, sess.StartTransaction(ctx))
	require.NoError(t, c.BulkUpsert(ctx, []docstore.Document{{ID: "a", Value: doc{ID: "a"}}}))

	assert.Equal(t, 0, s.Len("doc"), "write must not be visible before commit")
	assert.Len(t, collect(t, c, docstore.Query{}), 1, "session sees its own pending write")

	require.NoError(t, sess.CommitTransaction(ctx))
	assert.Equal(t, 1, s.Len("doc"))
	assert.False(t, sess.InTransaction())

	journal := s.Journal()
	require.Len(t, journal, 1)
	assert.True(t, journal[0].Transactional)
}

func TestTransaction_AbortDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := openSession(t, s)

	require.NoError(t, sess.StartTransaction(ctx))
	require.NoError(t, sess.Collection("doc").BulkUpsert(ctx, []docstore.Document{{ID: "a", Value: doc{ID: "a"}}}))
	require.NoError(t, sess.AbortTransaction(ctx))

	assert.Equal(t, 0, s.Len("doc"))
	assert.Empty(t, s.Journal())
}

func TestTransaction_StateErrors(t *testing.T) {
	ctx := context.Background()
	sess := openSession(t, New())

	assert.ErrorIs(t, sess.CommitTransaction(ctx), docstore.ErrNoTransaction)
	assert.ErrorIs(t, sess.AbortTransaction(ctx), docstore.ErrNoTransaction)

	require.NoError(t, sess.StartTransaction(ctx))
	assert.ErrorIs(t, sess.StartTransaction(ctx), docstore.ErrTransactionInProgress)

	sess.EndSession(ctx)
	assert.ErrorIs(t, sess.StartTransaction(ctx), docstore.ErrSessionEnded)
}

func TestFind_WhereSortLimit(t *testing.T) {
	s := New()
	require.NoError(t, s.Seed("doc",
		docstore.Document{ID: "a", Value: doc{ID: "a", Name: "x", Count: 3}},
		docstore.Document{ID: "b", Value: doc{ID: "b", Name: "y", Count: 1}},
		docstore.Document{ID: "c", Value: doc{ID: "c", Name: "x", Count: 2}},
		docstore.Document{ID: "d", Value: doc{ID: "d", Name: "x", Count: 2}},
	))
	c := openSession(t, s).Collection("doc")

	tests := []struct {
		name  string
		query docstore.Query
		want  []string
	}{
		{"all in insertion order", docstore.Query{}, []string{"a", "b", "c", "d"}},
		{"where", docstore.Query{Where: map[string]any{"name": "x"}}, []string{"a", "c", "d"}},
		{"where numeric", docstore.Query{Where: map[string]any{"count": 2}}, []string{"c", "d"}},
		{"sort asc with id tiebreak", docstore.Query{Sort: []docstore.SortField{{Field: "count"}}}, []string{"b", "c", "d", "a"}},
		{"sort desc limit", docstore.Query{Sort: []docstore.SortField{{Field: "count", Descending: true}}, Limit: 1}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, d := range collect(t, c, tt.query) {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestCount_IgnoresLimit(t *testing.T) {
	s := New()
	require.NoError(t, s.Seed("doc",
		docstore.Document{ID: "a", Value: doc{ID: "a", Name: "x"}},
		docstore.Document{ID: "b", Value: doc{ID: "b", Name: "x"}},
	))
	n, err := openSession(t, s).Collection("doc").Count(context.Background(), docstore.Query{
		Where: map[string]any{"name": "x"},
		Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFailNextUpsert_IsOneShot(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.FailNextUpsert("doc", boom)
	c := openSession(t, s).Collection("doc")

	err := c.BulkUpsert(ctx, []docstore.Document{{ID: "a", Value: doc{ID: "a"}}})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len("doc"))

	require.NoError(t, c.BulkUpsert(ctx, []docstore.Document{{ID: "a", Value: doc{ID: "a"}}}))
	assert.Equal(t, 1, s.Len("doc"))
}

func TestStartSession_RecordsOptions(t *testing.T) {
	s := New()
	opts := docstore.SessionOptions{Majority: true}
	sess, err := s.StartSession(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, opts, sess.Options())
	assert.Equal(t, []docstore.SessionOptions{opts}, s.SessionHistory())

	require.NoError(t, s.Close(context.Background()))
	_, err = s.StartSession(context.Background(), opts)
	assert.Error(t, err)
}

func TestCursor_DecodeWithoutNext(t *testing.T) {
	c := &cursor{pos: -1}
	assert.ErrorIs(t, c.Decode(&doc{}), errNoCurrent)
}

func TestDocuments_InsertionOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.Seed("doc",
		docstore.Document{ID: "b", Value: doc{ID: "b", Name: "beta", Count: 2}},
		docstore.Document{ID: "a", Value: doc{ID: "a", Name: "alpha"}},
	))

	docs, err := s.Documents("doc")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0]["id"])
	assert.Equal(t, float64(2), docs[0]["count"])
	assert.Equal(t, "alpha", docs[1]["name"])

	empty, err := s.Documents("missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
