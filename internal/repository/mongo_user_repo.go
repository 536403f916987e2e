package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vidtube/internal/domain"
)

const usersCollection = "users"

// MongoUserRepository implementa UserRepository sobre una colección MongoDB.
type MongoUserRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{
		coll: db.Collection(usersCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes crea los índices únicos de username y email.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("username_unique"),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
	})
	return err
}

func (r *MongoUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error) {
	var or bson.A
	if username != "" {
		or = append(or, bson.M{"username": username})
	}
	if email != "" {
		or = append(or, bson.M{"email": email})
	}
	if len(or) == 0 {
		return domain.User{}, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"$or": or})
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) Create(ctx context.Context, user domain.User) error {
	now := r.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.WatchHistory == nil {
		user.WatchHistory = []string{}
	}
	_, err := r.coll.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateByID no escribe nada si el patch está vacío.
func (r *MongoUserRepository) UpdateByID(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}
	update := mongoUpdate(patch, r.now())
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var u domain.User
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&u)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.User{}, ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return domain.User{}, ErrDuplicate
	case err != nil:
		return domain.User{}, err
	}
	return u, nil
}

func (r *MongoUserRepository) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	filter := bson.M{"_id": id, "refresh_token": expected}
	update := bson.M{"$set": bson.M{"refresh_token": next, "updated_at": r.now()}}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *MongoUserRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (domain.User, error) {
	var u domain.User
	err := r.coll.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func mongoUpdate(patch domain.UserPatch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if patch.FullName != nil {
		set["full_name"] = *patch.FullName
	}
	if patch.Email != nil {
		set["email"] = *patch.Email
	}
	if patch.PasswordHash != nil {
		set["password_hash"] = *patch.PasswordHash
	}
	if patch.AvatarURL != nil {
		set["avatar_url"] = *patch.AvatarURL
	}
	if patch.CoverImageURL != nil {
		set["cover_image_url"] = *patch.CoverImageURL
	}
	if patch.RefreshToken != nil && !patch.ClearRefreshToken {
		set["refresh_token"] = *patch.RefreshToken
	}
	update := bson.M{"$set": set}
	if patch.ClearRefreshToken {
		update["$unset"] = bson.M{"refresh_token": ""}
	}
	return update
}
