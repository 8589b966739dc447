// Package gamestore persists game documents in MongoDB.
package gamestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

const collectionName = "games"

// Config holds MongoDB connection settings.
type Config struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	MaxPoolSize    uint64        `json:"max_pool_size"`
}

func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "cardtable",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    50,
	}
}

func (c Config) Validate() error {
	if c.URI == "" {
		return errors.New("mongo uri cannot be empty")
	}
	if c.Database == "" {
		return errors.New("mongo database cannot be empty")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("mongo connect timeout must be greater than 0")
	}
	return nil
}

// Connect dials MongoDB and pings the primary.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	return client, nil
}

// Store is the games collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewStore(client *mongo.Client, database string) *Store {
	return &Store{
		client:     client,
		collection: client.Database(database).Collection(collectionName),
	}
}

func (s *Store) InsertGame(ctx context.Context, game *types.Game) error {
	if _, err := s.collection.InsertOne(ctx, game); err != nil {
		return fmt.Errorf("failed to insert game %s: %w", game.ID, err)
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, gameID string) (*types.Game, error) {
	var game types.Game
	err := s.collection.FindOne(ctx, bson.M{"_id": gameID}).Decode(&game)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
	}
	return &game, nil
}

// AppendMove pushes move onto the game's move log.
func (s *Store) AppendMove(ctx context.Context, gameID string, move types.Move) error {
	return s.update(ctx, gameID, bson.M{"$push": bson.M{"moves": move}})
}

// PopMove removes the most recent move. It undoes a preceding AppendMove.
func (s *Store) PopMove(ctx context.Context, gameID string) error {
	return s.update(ctx, gameID, bson.M{"$pop": bson.M{"moves": 1}})
}

func (s *Store) update(ctx context.Context, gameID string, update bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": gameID}, update)
	if err != nil {
		return fmt.Errorf("failed to update game %s: %w", gameID, err)
	}
	if res.MatchedCount == 0 {
		return interfaces.ErrGameNotFound
	}
	return nil
}

func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": gameID}); err != nil {
		return fmt.Errorf("failed to delete game %s: %w", gameID, err)
	}
	return nil
}

// CountActive reports games that have not finished.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	return s.collection.CountDocuments(ctx, bson.M{"state": types.GameStateWaiting})
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

var _ interfaces.GameStore = (*Store)(nil)
