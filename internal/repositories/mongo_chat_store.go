package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-chat/internal/models"
)

// UserChatsCollection is the collection holding one document per user.
const UserChatsCollection = "user_chats"

const maxAppendAttempts = 3

// MongoChatStore stores each user's chats as a single document:
//
//	{userName, chats: [{counterpartUserName, messages: [{_id, ...}]}]}
//
// All writes are single-document updates, so each owner copy changes atomically.
type MongoChatStore struct {
	coll *mongo.Collection
}

// NewMongoChatStore constructs a MongoChatStore over db.
func NewMongoChatStore(db *mongo.Database) *MongoChatStore {
	return &MongoChatStore{coll: db.Collection(UserChatsCollection)}
}

// FindByUserName loads the user's document.
func (r *MongoChatStore) FindByUserName(ctx context.Context, userName string) (models.UserChats, error) {
	var record models.UserChats
	err := r.coll.FindOne(ctx, bson.M{"userName": userName}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.UserChats{}, ErrUserChatsNotFound
	}
	if err != nil {
		return models.UserChats{}, err
	}
	if record.Chats == nil {
		record.Chats = []models.ChatSession{}
	}
	return record, nil
}

// GetSession returns the owner's session with counterpart.
func (r *MongoChatStore) GetSession(ctx context.Context, owner, counterpart string) (models.ChatSession, error) {
	record, err := r.FindByUserName(ctx, owner)
	if err != nil {
		return models.ChatSession{}, err
	}
	session, ok := record.Session(counterpart)
	if !ok {
		return models.ChatSession{}, ErrSessionNotFound
	}
	if session.Messages == nil {
		session.Messages = []models.Message{}
	}
	return *session, nil
}

// ListSessions summarizes the owner's sessions in insertion order.
func (r *MongoChatStore) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	record, err := r.FindByUserName(ctx, owner)
	if errors.Is(err, ErrUserChatsNotFound) {
		return []models.SessionSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Summaries(), nil
}

// AppendMessage pushes msg into the owner's session, creating the document or
// the session when needed. Concurrent creators race on the unique userName
// index; the loser retries against the now existing document.
func (r *MongoChatStore) AppendMessage(ctx context.Context, owner, counterpart string, msg models.Message) error {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		res, err := r.coll.UpdateOne(ctx,
			bson.M{
				"userName": owner,
				"chats": bson.M{"$elemMatch": bson.M{
					"counterpartUserName": counterpart,
					"messages._id":        bson.M{"$ne": msg.ID},
				}},
			},
			bson.M{"$push": bson.M{"chats.$.messages": msg}},
		)
		if err != nil {
			return fmt.Errorf("push message: %w", err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		present, err := r.hasMessage(ctx, owner, counterpart, msg.ID)
		if err != nil {
			return err
		}
		if present {
			return nil
		}

		_, err = r.coll.UpdateOne(ctx,
			bson.M{"userName": owner, "chats.counterpartUserName": bson.M{"$ne": counterpart}},
			bson.M{"$push": bson.M{"chats": models.ChatSession{
				CounterpartUserName: counterpart,
				Messages:            []models.Message{msg},
			}}},
			options.Update().SetUpsert(true),
		)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("push session: %w", err)
		}
	}
	return fmt.Errorf("append message for %s: too many concurrent updates", owner)
}

// FindMessage fetches one message of the owner's session.
func (r *MongoChatStore) FindMessage(ctx context.Context, owner, counterpart, messageID string) (models.Message, error) {
	session, err := r.GetSession(ctx, owner, counterpart)
	if err != nil {
		return models.Message{}, err
	}
	msg, ok := session.Message(messageID)
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return *msg, nil
}

// MarkReceived flags one message of the owner's copy as received.
func (r *MongoChatStore) MarkReceived(ctx context.Context, owner, counterpart, messageID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"userName": owner,
			"chats": bson.M{"$elemMatch": bson.M{
				"counterpartUserName": counterpart,
				"messages._id":        messageID,
			}},
		},
		bson.M{"$set": bson.M{"chats.$[c].messages.$[m].received": true}},
		options.Update().SetArrayFilters(options.ArrayFilters{Filters: []interface{}{
			bson.M{"c.counterpartUserName": counterpart},
			bson.M{"m._id": messageID},
		}}),
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkSeen flags every message of the owner's copy as seen and received.
func (r *MongoChatStore) MarkSeen(ctx context.Context, owner, counterpart string) (int, error) {
	var record models.UserChats
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"userName": owner, "chats.counterpartUserName": counterpart},
		bson.M{"$set": bson.M{
			"chats.$.messages.$[].seen":     true,
			"chats.$.messages.$[].received": true,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, countErr := r.coll.CountDocuments(ctx, bson.M{"userName": owner})
		if countErr != nil {
			return 0, countErr
		}
		if count == 0 {
			return 0, ErrUserChatsNotFound
		}
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}
	session, ok := record.Session(counterpart)
	if !ok {
		return 0, ErrSessionNotFound
	}
	return len(session.Messages), nil
}

func (r *MongoChatStore) hasMessage(ctx context.Context, owner, counterpart, messageID string) (bool, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{
		"userName": owner,
		"chats": bson.M{"$elemMatch": bson.M{
			"counterpartUserName": counterpart,
			"messages._id":        messageID,
		}},
	})
	return count > 0, err
}

var _ ChatStore = (*MongoChatStore)(nil)
