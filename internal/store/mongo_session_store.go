package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionCollection = "ussd_sessions"

// MongoSessionStore keeps sessions in a MongoDB collection keyed by session id.
type MongoSessionStore struct {
	collection *mongo.Collection
	timeout    time.Duration
	now        func() time.Time
}

func NewMongoSessionStore(db *mongo.Database, timeout time.Duration) *MongoSessionStore {
	return &MongoSessionStore{
		collection: db.Collection(sessionCollection),
		timeout:    timeout,
		now:        time.Now,
	}
}

// EnsureIndexes creates the indexes the session queries rely on. The partial unique index
// keeps at most one active session per phone number.
func (s *MongoSessionStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "phone_number", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "last_activity", Value: 1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (s *MongoSessionStore) Start(ctx context.Context, session *domain.Session) error {
	if _, err := s.collection.UpdateMany(ctx,
		bson.M{"phone_number": session.PhoneNumber, "active": true},
		bson.M{"$set": bson.M{"active": false}, "$inc": bson.M{"version": 1}},
	); err != nil {
		return fmt.Errorf("deactivate previous sessions: %w", err)
	}

	now := s.now()
	session.Active = true
	session.Version = 1
	session.CreatedAt = now
	session.LastActivity = now
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": session.SessionID}, session, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) Load(ctx context.Context, sessionID, phone string) (*domain.Session, error) {
	now := s.now()
	var session domain.Session
	err := s.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err == nil {
		if !session.Active || session.ExpiredAt(now, s.timeout) {
			return nil, ErrSessionNotFound
		}
		return &session, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if phone == "" {
		return nil, ErrSessionNotFound
	}

	filter := bson.M{
		"phone_number":  phone,
		"active":        true,
		"last_activity": bson.M{"$gte": now.Add(-s.timeout)},
	}
	opts := options.FindOne().SetSort(bson.M{"last_activity": -1})
	if err := s.collection.FindOne(ctx, filter, opts).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *MongoSessionStore) Upsert(ctx context.Context, session *domain.Session) error {
	return s.write(ctx, session, true)
}

func (s *MongoSessionStore) Close(ctx context.Context, session *domain.Session) error {
	return s.write(ctx, session, false)
}

func (s *MongoSessionStore) write(ctx context.Context, session *domain.Session, active bool) error {
	now := s.now()
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": session.SessionID, "version": session.Version, "active": true},
		bson.M{
			"$set": bson.M{
				"step":          session.Step,
				"data":          session.Data,
				"depth":         session.Depth,
				"last_reply":    session.LastReply,
				"active":        active,
				"last_activity": now,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrSessionConflict
	}
	session.Version++
	session.Active = active
	session.LastActivity = now
	return nil
}

func (s *MongoSessionStore) Deactivate(ctx context.Context, sessionID string) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": sessionID, "active": true},
		bson.M{"$set": bson.M{"active": false}, "$inc": bson.M{"version": 1}},
	)
	return err
}

func (s *MongoSessionStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.collection.UpdateMany(ctx,
		bson.M{"active": true, "last_activity": bson.M{"$lt": now.Add(-s.timeout)}},
		bson.M{"$set": bson.M{"active": false}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}
