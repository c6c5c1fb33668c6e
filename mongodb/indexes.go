package mongodb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collections used by the application. Keys are stored as _id.
const (
	UsersCollection               = "users"
	PostsCollection               = "posts"
	AccountsCollection            = "accounts"
	FederatedIdentitiesCollection = "federated_identities"
)

// EnsureIndexes creates the secondary indexes the application queries on.
// Existing compatible indexes are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		UsersCollection: {
			{
				// usernames are not unique, lookups only
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(false),
			},
		},
		PostsCollection: {
			{
				Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
			},
		},
		FederatedIdentitiesCollection: {
			{
				Keys: bson.D{{Key: "userId", Value: 1}},
			},
		},
	}

	for collection, models := range specs {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			log.Warn().Err(err).Str("collection", collection).Msg("Error creating indexes (may already exist or options conflict)")
			return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
		}
		log.Info().Str("collection", collection).Msg("Indexes ensured.")
	}
	return nil
}
