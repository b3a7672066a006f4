// Package mongo は MongoDB をバックエンドとする UserStore 実装です。
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/yourusername/melodyverse-auth/internal/storage"
)

var _ storage.UserStore = (*Store)(nil)

const emailIndexName = "email_unique"

// userDocument は users コレクションのドキュメント形式です。
type userDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Name      string        `bson:"name"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

// Options は接続設定です。
type Options struct {
	URI        string
	Database   string
	Collection string
}

// Store は MongoDB の users コレクションを操作します。
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

// Connect は MongoDB に接続し、疎通確認とインデックス作成まで行います。
func Connect(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	store := New(client, opts.Database, opts.Collection)
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// New は接続済みクライアントから Store を作成します。
func New(client *mongo.Client, database, collection string) *Store {
	return &Store{
		client: client,
		users:  client.Database(database).Collection(collection),
		now:    time.Now,
	}
}

// EnsureIndexes は email の一意インデックスを作成します。
// 同時サインアップの重複はこのインデックスで排除されます。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(emailIndexName),
	})
	if err != nil {
		return fmt.Errorf("failed to create email index: %w", err)
	}
	return nil
}

// FindByEmail はユーザーを取得します。
func (s *Store) FindByEmail(ctx context.Context, email string) (storage.User, error) {
	var doc userDocument
	err := s.users.FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("failed to find user by email: %w", err)
	}
	return doc.toUser(), nil
}

// Create はユーザーを挿入します。一意制約違反は ErrDuplicate に変換します。
func (s *Store) Create(ctx context.Context, user storage.User) (storage.User, error) {
	now := s.now().UTC()
	doc := userDocument{
		ID:        bson.NewObjectID(),
		Name:      user.Name,
		Email:     user.Email,
		Password:  user.PasswordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.User{}, storage.ErrDuplicate
		}
		return storage.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return doc.toUser(), nil
}

// UpdatePasswordHash はパスワードハッシュを上書きします。
func (s *Store) UpdatePasswordHash(ctx context.Context, email string, passwordHash string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "email", Value: email}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "password", Value: passwordHash},
			{Key: "updatedAt", Value: s.now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Ping は疎通確認を行います。
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close は接続を切断します。
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (d userDocument) toUser() storage.User {
	return storage.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
