// Package mongostore implements docstore.Store on MongoDB.
//
// Documents are converted to BSON through their JSON form so field names
// and value shapes match the other backends. The document ID is stored as
// _id. Sessions started with Majority use majority read and write concern
// for their transactions.
package mongostore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/roach88/uow/internal/docstore"
)

var _ docstore.Store = (*Store)(nil)

// Store is a docstore.Store bound to one MongoDB database.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

// Open connects to uri and verifies the connection.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		return nil, fmt.Errorf("mongostore: database name is empty")
	}
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return &Store{client: client, database: client.Database(database)}, nil
}

func (s *Store) StartSession(ctx context.Context, opts docstore.SessionOptions) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := s.client.StartSession(sessionOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("mongostore: start session: %w", err)
	}
	return &session{store: s, sess: ms, opts: opts}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func sessionOptions(opts docstore.SessionOptions) *mopt.SessionOptions {
	so := mopt.Session()
	if opts.Majority {
		so.SetDefaultReadConcern(readconcern.Majority())
		so.SetDefaultWriteConcern(writeconcern.Majority())
	}
	return so
}

func transactionOptions(opts docstore.SessionOptions) *mopt.TransactionOptions {
	to := mopt.Transaction()
	if opts.Majority {
		to.SetReadConcern(readconcern.Majority())
		to.SetWriteConcern(writeconcern.Majority())
	}
	if opts.MaxCommitTime > 0 {
		d := opts.MaxCommitTime
		to.SetMaxCommitTime(&d)
	}
	return to
}

type session struct {
	store *Store
	sess  mongo.Session
	opts  docstore.SessionOptions
	inTx  bool
	ended bool
}

func (s *session) StartTransaction(context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if s.inTx {
		return docstore.ErrTransactionInProgress
	}
	if err := s.sess.StartTransaction(transactionOptions(s.opts)); err != nil {
		return fmt.Errorf("mongostore: start transaction: %w", err)
	}
	s.inTx = true
	return nil
}

func (s *session) CommitTransaction(ctx context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if !s.inTx {
		return docstore.ErrNoTransaction
	}
	s.inTx = false
	return s.sess.CommitTransaction(ctx)
}

func (s *session) AbortTransaction(ctx context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if !s.inTx {
		return docstore.ErrNoTransaction
	}
	s.inTx = false
	return s.sess.AbortTransaction(ctx)
}

func (s *session) InTransaction() bool { return s.inTx }

func (s *session) Options() docstore.SessionOptions { return s.opts }

func (s *session) Collection(name string) docstore.Collection {
	return &collection{session: s, name: name}
}

// EndSession aborts any open transaction; the driver does that itself.
func (s *session) EndSession(ctx context.Context) {
	if s.ended {
		return
	}
	s.ended = true
	s.inTx = false
	s.sess.EndSession(ctx)
}

// bind attaches the driver session to ctx while a transaction is open.
// Outside a transaction operations run sessionless so collections can be
// used from several goroutines.
func (s *session) bind(ctx context.Context) context.Context {
	if !s.inTx {
		return ctx
	}
	return mongo.NewSessionContext(ctx, s.sess)
}

type collection struct {
	session *session
	name    string
}

func (c *collection) Name() string { return c.name }

func (c *collection) handle() (*mongo.Collection, error) {
	if c.session.ended {
		return nil, docstore.ErrSessionEnded
	}
	if err := docstore.ValidateCollectionName(c.name); err != nil {
		return nil, err
	}
	return c.session.store.database.Collection(c.name), nil
}

// BulkUpsert replaces every document by _id in one unordered bulk write.
func (c *collection) BulkUpsert(ctx context.Context, docs []docstore.Document) error {
	coll, err := c.handle()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := docstore.ValidateDocuments(c.name, docs); err != nil {
		return err
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		body, err := encodeDocument(d)
		if err != nil {
			return fmt.Errorf("bulk upsert %s/%s: %w", c.name, d.ID, err)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(body).
			SetUpsert(true))
	}
	if _, err := coll.BulkWrite(c.session.bind(ctx), models, mopt.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("bulk upsert %s: %w", c.name, err)
	}
	return nil
}

func (c *collection) Count(ctx context.Context, q docstore.Query) (int64, error) {
	coll, err := c.handle()
	if err != nil {
		return 0, err
	}
	filter, err := filterFor(q.Where)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(c.session.bind(ctx), filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

func (c *collection) Find(ctx context.Context, q docstore.Query) (docstore.Cursor, error) {
	coll, err := c.handle()
	if err != nil {
		return nil, err
	}
	filter, err := filterFor(q.Where)
	if err != nil {
		return nil, err
	}
	findOpts := mopt.Find().SetSort(sortFor(q.Sort))
	if q.Limit > 0 {
		findOpts.SetLimit(q.Limit)
	}
	cur, err := coll.Find(c.session.bind(ctx), filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.name, err)
	}
	return &cursor{cur: cur, session: c.session}, nil
}

type cursor struct {
	cur     *mongo.Cursor
	session *session
}

func (c *cursor) Next(ctx context.Context) bool {
	return c.cur.Next(c.session.bind(ctx))
}

func (c *cursor) Decode(v any) error {
	return decodeRaw(c.cur.Current, v)
}

func (c *cursor) Err() error { return c.cur.Err() }

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

// encodeDocument converts d.Value to BSON via JSON and sets _id.
func encodeDocument(d docstore.Document) (bson.D, error) {
	raw, err := json.Marshal(d.Value)
	if err != nil {
		return nil, err
	}
	var body bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &body); err != nil {
		return nil, err
	}
	out := make(bson.D, 0, len(body)+1)
	out = append(out, bson.E{Key: "_id", Value: d.ID})
	for _, e := range body {
		if e.Key == "_id" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func filterFor(where map[string]any) (bson.D, error) {
	if len(where) == 0 {
		return bson.D{}, nil
	}
	raw, err := json.Marshal(where)
	if err != nil {
		return nil, fmt.Errorf("mongostore: encode filter: %w", err)
	}
	var filter bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &filter); err != nil {
		return nil, fmt.Errorf("mongostore: encode filter: %w", err)
	}
	return filter, nil
}

func sortFor(fields []docstore.SortField) bson.D {
	out := make(bson.D, 0, len(fields)+1)
	for _, f := range fields {
		direction := 1
		if f.Descending {
			direction = -1
		}
		out = append(out, bson.E{Key: f.Field, Value: direction})
	}
	return append(out, bson.E{Key: "_id", Value: 1})
}

// decodeRaw turns a stored document back into its JSON form and decodes it.
func decodeRaw(raw bson.Raw, v any) error {
	js, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, v)
}
