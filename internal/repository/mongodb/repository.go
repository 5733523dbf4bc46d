package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

// MessageRepository stores normalized WhatsApp message rows.
type MessageRepository struct {
	client   *mongo.Client
	dbName   string
	collName string
}

// NewMessageRepository connects to MongoDB and verifies the connection.
func NewMessageRepository(ctx context.Context, uri, dbName, collName string) (*MessageRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MessageRepository{
		client:   client,
		dbName:   dbName,
		collName: collName,
	}, nil
}

func (r *MessageRepository) collection() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(r.collName)
}

// EnsureIndexes creates the dedup and chat listing indexes. Rows without a
// message id are not constrained.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "connection_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_connection_message").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"message_id": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "connection_id", Value: 1}, {Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("connection_chat_timestamp"),
		},
	}
	if _, err := r.collection().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

// SaveMessage inserts one row.
func (r *MessageRepository) SaveMessage(ctx context.Context, row models.MessageRow) error {
	if _, err := r.collection().InsertOne(ctx, row); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrDuplicateMessage
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent rows of a chat, newest first. An empty
// chatID lists the whole connection.
func (r *MessageRepository) ListMessages(ctx context.Context, connectionID, chatID string, limit int64) ([]models.MessageRow, error) {
	filter := bson.M{"connection_id": connectionID}
	if chatID != "" {
		filter["chat_id"] = chatID
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	defer cursor.Close(ctx)

	rows := make([]models.MessageRow, 0)
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return rows, nil
}

// Close closes the MongoDB connection.
func (r *MessageRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
