// Package mongostore implements metadata.Store on MongoDB.
//
// Records are documents keyed by project id. An update replaces the document
// only when its version still matches, so concurrent writers cannot both win.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// Defaults for database and collection names.
const (
	DefaultDatabase   = "pipevision"
	DefaultCollection = "metadata"
)

// Config configures the MongoDB connection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Store is a MongoDB-backed metadata store.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects to MongoDB and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Get returns the stored record, or an empty one at version 0.
func (s *Store) Get(ctx context.Context, projectID string) (*metadata.Record, error) {
	var r metadata.Record
	err := s.coll.FindOne(ctx, bson.M{"_id": projectID}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return metadata.New(projectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find metadata %s: %w", projectID, err)
	}
	return &r, nil
}

// Update writes the next version with a filter on the expected one.
func (s *Store) Update(ctx context.Context, projectID string, expectedVersion int64, mutate func(*metadata.Record) error) (*metadata.Record, error) {
	current, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	next, err := metadata.Apply(projectID, current, expectedVersion, mutate)
	if err != nil {
		return nil, err
	}

	if expectedVersion == 0 {
		_, err := s.coll.InsertOne(ctx, next)
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.Wrap(errors.ErrCodeStaleMetadata, err,
				"metadata for project %s was created concurrently", projectID)
		}
		if err != nil {
			return nil, fmt.Errorf("insert metadata %s: %w", projectID, err)
		}
		return next, nil
	}

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": projectID, "version": expectedVersion}, next)
	if err != nil {
		return nil, fmt.Errorf("replace metadata %s: %w", projectID, err)
	}
	if res.MatchedCount == 0 {
		return nil, errors.New(errors.ErrCodeStaleMetadata,
			"metadata for project %s advanced past version %d", projectID, expectedVersion)
	}
	return next, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ metadata.Store = (*Store)(nil)
