package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/messaging"
)

type messagingRepository struct {
	db *DB
}

var _ messaging.Repository = (*messagingRepository)(nil)

func NewMessagingRepository(db *DB) messaging.Repository {
	return &messagingRepository{db: db}
}

// withNames fills the participant names of c. Callers hold the lock.
func (repo *messagingRepository) withNames(c messaging.Conversation) messaging.Conversation {
	c.TeacherName = repo.db.data.users[c.TeacherID].FullName
	c.ParentName = repo.db.data.users[c.ParentID].FullName
	return c
}

func (repo *messagingRepository) GetOrCreateConversation(_ context.Context, teacherID, parentID string, _ ...core.DBExecutor) (messaging.Conversation, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, c := range repo.db.data.conversations {
		if c.TeacherID == teacherID && c.ParentID == parentID {
			return repo.withNames(c), false, nil
		}
	}
	c := messaging.Conversation{
		ID:        uuid.New().String(),
		TeacherID: teacherID,
		ParentID:  parentID,
		CreatedAt: core.NowFunc(),
	}
	repo.db.data.conversations[c.ID] = c
	return repo.withNames(c), true, nil
}

func (repo *messagingRepository) GetConversation(_ context.Context, id string, _ ...core.DBExecutor) (messaging.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if c, ok := repo.db.data.conversations[id]; ok {
		return repo.withNames(c), nil
	}
	return messaging.Conversation{}, messaging.ErrNotFound
}

func (repo *messagingRepository) QueryConversations(_ context.Context, userID string, _ ...core.DBExecutor) ([]messaging.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	convs := make([]messaging.Conversation, 0)
	for _, c := range repo.db.data.conversations {
		if !c.IsParticipant(userID) {
			continue
		}
		c = repo.withNames(c)
		for _, m := range repo.db.data.messages {
			if m.ConversationID == c.ID && m.SenderID != userID && !m.IsRead {
				c.UnreadCount++
			}
		}
		convs = append(convs, c)
	}
	activity := func(c messaging.Conversation) int64 {
		if c.LastMessageAt.Valid {
			return c.LastMessageAt.Time.UnixNano()
		}
		return c.CreatedAt.UnixNano()
	}
	sort.SliceStable(convs, func(i, j int) bool { return activity(convs[i]) > activity(convs[j]) })
	return convs, nil
}

func (repo *messagingRepository) CreateMessage(_ context.Context, msg messaging.Message, _ ...core.DBExecutor) (messaging.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.data.conversations[msg.ConversationID]
	if !ok {
		return messaging.Message{}, messaging.ErrNotFound
	}
	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = core.NowFunc()
	}
	repo.db.data.messages = append(repo.db.data.messages, msg)
	c.LastMessageAt = null.TimeFrom(msg.CreatedAt)
	repo.db.data.conversations[c.ID] = c
	return msg, nil
}

// QueryMessages returns the messages in insertion order, which is also creation order.
func (repo *messagingRepository) QueryMessages(_ context.Context, conversationID string, _ ...core.DBExecutor) ([]messaging.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	msgs := make([]messaging.Message, 0)
	for _, m := range repo.db.data.messages {
		if m.ConversationID == conversationID {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (repo *messagingRepository) MarkRead(_ context.Context, conversationID, readerID string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for i, m := range repo.db.data.messages {
		if m.ConversationID == conversationID && m.SenderID != readerID && !m.IsRead {
			repo.db.data.messages[i].IsRead = true
			n++
		}
	}
	return n, nil
}
