package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"clinichub-backend/internal/domain"
)

// UserRepository reads the user directory in MongoDB. The messaging
// layer only needs role lookups and verification updates; account
// management belongs to the portal service.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection("users")}
}

// FindByID returns a user by id, or nil when absent
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	return &user, nil
}

// Insert stores a new user record
func (r *UserRepository) Insert(ctx context.Context, user *domain.User) error {
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateVerificationStatus records the admin's decision on a doctor
// account. Returns false when no such user exists.
func (r *UserRepository) UpdateVerificationStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"verification_status": status,
		"updated_at":          time.Now(),
	}})
	if err != nil {
		return false, fmt.Errorf("failed to update verification status for %s: %w", id, err)
	}
	return res.MatchedCount > 0, nil
}
