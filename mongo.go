package poolx

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoAdapter opens MongoDB clients for the pool, one client per pooled
// connection with the driver's internal pool pinned to a single socket.
type MongoAdapter struct {
	uri      string
	database string
}

// NewMongoAdapter creates a document backend adapter for the given
// connection URI and database
func NewMongoAdapter(uri, database string) *MongoAdapter {
	return &MongoAdapter{uri: uri, database: database}
}

// Name implements BackendAdapter
func (a *MongoAdapter) Name() string {
	return "mongodb"
}

// Connect implements BackendAdapter
func (a *MongoAdapter) Connect(ctx context.Context) (BackendConn, error) {
	opts := options.Client().
		ApplyURI(a.uri).
		SetMaxPoolSize(1).
		SetMinPoolSize(0)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &mongoConn{client: client, database: a.database}, nil
}

// mongoConn adapts a MongoDB client to BackendConn. Transactions run on a
// driver session opened by Begin; Execute binds commands to that session
// while it is active.
type mongoConn struct {
	client   *mongo.Client
	database string
	session  mongo.Session
}

// Ping implements BackendConn
func (c *mongoConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Execute implements BackendConn. The query names a database command; an
// optional first parameter supplies the full command document instead.
func (c *mongoConn) Execute(ctx context.Context, query string, params ...any) (any, error) {
	var command any = bson.D{{Key: query, Value: 1}}
	if len(params) > 0 {
		command = params[0]
	}

	if c.session != nil {
		ctx = mongo.NewSessionContext(ctx, c.session)
	}

	result := c.client.Database(c.database).RunCommand(ctx, command)
	var doc bson.M
	if err := result.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Begin implements BackendConn
func (c *mongoConn) Begin(ctx context.Context) error {
	if c.session != nil {
		return fmt.Errorf("mongodb: transaction already started")
	}
	session, err := c.client.StartSession()
	if err != nil {
		return err
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return err
	}
	c.session = session
	return nil
}

// Commit implements BackendConn
func (c *mongoConn) Commit(ctx context.Context) error {
	if c.session == nil {
		return ErrNoActiveTransaction
	}
	err := c.session.CommitTransaction(ctx)
	c.session.EndSession(ctx)
	c.session = nil
	return err
}

// Rollback implements BackendConn
func (c *mongoConn) Rollback(ctx context.Context) error {
	if c.session == nil {
		return ErrNoActiveTransaction
	}
	err := c.session.AbortTransaction(ctx)
	c.session.EndSession(ctx)
	c.session = nil
	return err
}

// Close implements BackendConn
func (c *mongoConn) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
