package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"recipe-api/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// recipeDocument is the stored form of a recipe: the body fields inline with
// the object id kept in _id.
type recipeDocument struct {
	ID            primitive.ObjectID `bson:"_id"`
	models.Recipe `bson:",inline"`
}

func (d recipeDocument) toRecipe() models.Recipe {
	return d.Recipe.WithID(d.ID.Hex())
}

type mongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	cfg        MongoConfig
	logger     *slog.Logger
}

// NewMongoRepository connects to MongoDB and returns a Repository backed by a
// single collection.
func NewMongoRepository(ctx context.Context, uri string, opts ...Option) (Repository, error) {
	cfg := newMongoConfig(uri, opts...)
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo uri required")
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetAppName(cfg.AppName)
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(cfg.MinPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	cfg.Logger.Info("connected to mongo", "database", cfg.Database, "collection", cfg.Collection)
	return &mongoRepository{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:        cfg,
		logger:     cfg.Logger,
	}, nil
}

func (r *mongoRepository) Close(ctx context.Context) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}

func (r *mongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// GetRecipe treats an id that is not a valid object id as a failure: callers
// validate identifiers before reaching the datastore.
func (r *mongoRepository) GetRecipe(ctx context.Context, id string) Outcome[models.Recipe] {
	oid, err := parseObjectID(id)
	if err != nil {
		return Failed[models.Recipe](err)
	}
	var doc recipeDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Absent[models.Recipe]()
	}
	if err != nil {
		return Failedf[models.Recipe]("find recipe %s: %w", id, err)
	}
	return Present(doc.toRecipe())
}

func (r *mongoRepository) UpdateRecipe(ctx context.Context, id string, recipe models.Recipe) Outcome[Unit] {
	oid, err := parseObjectID(id)
	if err != nil {
		return Failed[Unit](err)
	}
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": oid}, recipeDocument{ID: oid, Recipe: recipe})
	if err != nil {
		return Failedf[Unit]("replace recipe %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return Absent[Unit]()
	}
	return Present(Unit{})
}

func (r *mongoRepository) DeleteRecipe(ctx context.Context, id string) Outcome[Unit] {
	oid, err := parseObjectID(id)
	if err != nil {
		return Failed[Unit](err)
	}
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return Failedf[Unit]("delete recipe %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return Absent[Unit]()
	}
	return Present(Unit{})
}

func (r *mongoRepository) InsertRecipe(ctx context.Context, recipe models.Recipe) Outcome[models.Recipe] {
	doc := recipeDocument{ID: primitive.NewObjectID(), Recipe: recipe}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return Failedf[models.Recipe]("insert recipe: %w", err)
	}
	return Present(doc.toRecipe())
}

// InsertRecipes issues one ordered InsertMany. A partial write is reported as
// a failure for the whole batch.
func (r *mongoRepository) InsertRecipes(ctx context.Context, recipes []models.Recipe) Outcome[[]models.Recipe] {
	docs := make([]any, 0, len(recipes))
	stored := make([]models.Recipe, 0, len(recipes))
	for _, recipe := range recipes {
		doc := recipeDocument{ID: primitive.NewObjectID(), Recipe: recipe}
		docs = append(docs, doc)
		stored = append(stored, doc.toRecipe())
	}
	if len(docs) == 0 {
		return Present(stored)
	}
	result, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		inserted := 0
		if result != nil {
			inserted = len(result.InsertedIDs)
		}
		return Failedf[[]models.Recipe]("insert %d recipes (%d written): %w", len(recipes), inserted, err)
	}
	return Present(stored)
}

func (r *mongoRepository) ListRecipes(ctx context.Context, bounds *Bounds) Outcome[[]models.Recipe] {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if bounds != nil {
		// A zero limit means "no limit" to the server.
		if bounds.Size == 0 {
			return Present([]models.Recipe{})
		}
		findOpts.SetSkip(bounds.Skip()).SetLimit(bounds.Size)
	}
	cursor, err := r.collection.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return Failedf[[]models.Recipe]("list recipes: %w", err)
	}
	defer cursor.Close(ctx)

	recipes := []models.Recipe{}
	for cursor.Next(ctx) {
		var doc recipeDocument
		if err := cursor.Decode(&doc); err != nil {
			return Failedf[[]models.Recipe]("decode recipe: %w", err)
		}
		recipes = append(recipes, doc.toRecipe())
	}
	if err := cursor.Err(); err != nil {
		return Failedf[[]models.Recipe]("iterate recipes: %w", err)
	}
	return Present(recipes)
}

var _ Repository = (*mongoRepository)(nil)
