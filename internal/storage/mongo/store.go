// Package mongo persists users in a MongoDB collection laid out the way the
// Solace web app has always stored them, so existing accounts keep working.
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

	"github.com/hongminglow/solace-be/internal/models"
	"github.com/hongminglow/solace-be/internal/storage"
)

var _ storage.UserStore = (*Store)(nil)

const collectionName = "users"

type userDocument struct {
	ID                  bson.ObjectID `bson:"_id"`
	Username            string        `bson:"username"`
	Email               string        `bson:"email"`
	Password            string        `bson:"password"`
	ResetPasswordToken  *string       `bson:"resetPasswordToken,omitempty"`
	ResetPasswordExpire *time.Time    `bson:"resetPasswordExpire,omitempty"`
	CreatedAt           time.Time     `bson:"createdAt"`
	UpdatedAt           time.Time     `bson:"updatedAt"`
}

func (d userDocument) toModel() models.User {
	u := models.User{
		ID:               d.ID.Hex(),
		Username:         d.Username,
		Email:            d.Email,
		PasswordHash:     d.Password,
		ResetToken:       d.ResetPasswordToken,
		ResetTokenExpiry: d.ResetPasswordExpire,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if u.ResetTokenExpiry != nil {
		exp := u.ResetTokenExpiry.UTC()
		u.ResetTokenExpiry = &exp
	}
	return u
}

// Store provides MongoDB-backed persistence for users.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
}

// NewUserStore connects, verifies the primary is reachable and ensures the
// collection's indexes exist.
func NewUserStore(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{client: client, users: client.Database(database).Collection(collectionName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("users_email_unique"),
		},
		{
			Keys: bson.D{{Key: "resetPasswordToken", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("users_reset_token").
				SetPartialFilterExpression(bson.D{{Key: "resetPasswordToken", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// CreateUser inserts a document; the unique email index rejects duplicates.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user, err := storage.PrepareCreate(user)
	if err != nil {
		return models.User{}, err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDocument{
		ID:                  bson.NewObjectID(),
		Username:            user.Username,
		Email:               user.Email,
		Password:            user.PasswordHash,
		ResetPasswordToken:  user.ResetToken,
		ResetPasswordExpire: user.ResetTokenExpiry,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return models.User{}, mapWriteError(err)
	}
	return doc.toModel(), nil
}

// FindByEmail fetches a user by normalized email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: models.NormalizeEmail(email)}})
}

// FindByResetToken fetches the owner of a token that is still live at now.
func (s *Store) FindByResetToken(ctx context.Context, token string, now time.Time) (models.User, error) {
	return s.findOne(ctx, liveTokenFilter(token, now))
}

// UpdateUser replaces the mutable fields of an existing document.
func (s *Store) UpdateUser(ctx context.Context, user models.User) (models.User, error) {
	user, err := storage.PrepareUpdate(user)
	if err != nil {
		return models.User{}, err
	}
	id, err := bson.ObjectIDFromHex(user.ID)
	if err != nil {
		return models.User{}, storage.ErrNotFound
	}

	set := bson.D{
		{Key: "username", Value: user.Username},
		{Key: "email", Value: user.Email},
		{Key: "password", Value: user.PasswordHash},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}
	update := bson.D{}
	if user.HasResetToken() {
		set = append(set,
			bson.E{Key: "resetPasswordToken", Value: *user.ResetToken},
			bson.E{Key: "resetPasswordExpire", Value: *user.ResetTokenExpiry})
	} else {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{
			{Key: "resetPasswordToken", Value: ""},
			{Key: "resetPasswordExpire", Value: ""},
		}})
	}
	update = append(update, bson.E{Key: "$set", Value: set})

	return s.findOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update)
}

// SetResetToken stores a reset token and its expiry, replacing any previous one.
func (s *Store) SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error {
	id, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return storage.ErrNotFound
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "resetPasswordToken", Value: token},
		{Key: "resetPasswordExpire", Value: expiry.UTC()},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}
	res, err := s.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return mapWriteError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ConsumeResetToken swaps the password and clears the token with a single
// FindOneAndUpdate filtered on the live token.
func (s *Store) ConsumeResetToken(ctx context.Context, token string, now time.Time, passwordHash string) (models.User, error) {
	if err := models.ValidatePasswordHash(passwordHash); err != nil {
		return models.User{}, err
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "password", Value: passwordHash},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}},
		{Key: "$unset", Value: bson.D{
			{Key: "resetPasswordToken", Value: ""},
			{Key: "resetPasswordExpire", Value: ""},
		}},
	}
	return s.findOneAndUpdate(ctx, liveTokenFilter(token, now), update)
}

func liveTokenFilter(token string, now time.Time) bson.D {
	return bson.D{
		{Key: "resetPasswordToken", Value: token},
		{Key: "resetPasswordExpire", Value: bson.D{{Key: "$gt", Value: now.UTC()}}},
	}
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (models.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, err
	}
	return doc.toModel(), nil
}

func (s *Store) findOneAndUpdate(ctx context.Context, filter, update bson.D) (models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDocument
	if err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, mapWriteError(err)
	}
	return doc.toModel(), nil
}

func mapWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrAlreadyExists
	}
	return err
}
