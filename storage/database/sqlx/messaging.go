package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/messaging"
)

const (
	conversationSelect = `
		SELECT c.id, c.teacher_id, c.parent_id, c.last_message_at, c.created_at,
			COALESCE(t.full_name, '') AS teacher_name, COALESCE(p.full_name, '') AS parent_name`
	conversationJoins = `
		FROM conversations c
		LEFT JOIN profiles t ON t.id = c.teacher_id
		LEFT JOIN profiles p ON p.id = c.parent_id`
	messageColumns = "id, conversation_id, sender_id, content, is_system, is_read, created_at"
)

type messagingRepository struct {
	repository
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *sqlx.DB) messaging.Repository {
	return &messagingRepository{repository{db: db}}
}

func (repo messagingRepository) GetOrCreateConversation(ctx context.Context, teacherID, parentID string, exec ...core.DBExecutor) (messaging.Conversation, bool, error) {
	e := repo.getExec(exec)
	n, err := rowsAffected(e.ExecContext(ctx, `
		INSERT INTO conversations (id, teacher_id, parent_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (teacher_id, parent_id) DO NOTHING`,
		uuid.New().String(), teacherID, parentID, core.NowFunc()))
	if err != nil {
		return messaging.Conversation{}, false, errors.Wrap(err, "inserting conversation")
	}

	var conv messaging.Conversation
	err = sqlx.GetContext(ctx, e, &conv, conversationSelect+", 0 AS unread_count"+conversationJoins+`
		WHERE c.teacher_id = $1 AND c.parent_id = $2`, teacherID, parentID)
	if err != nil {
		return messaging.Conversation{}, false, trapNoRowsErr(err, messaging.ErrNotFound, "getting conversation")
	}
	return conv, n == 1, nil
}

func (repo messagingRepository) GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (messaging.Conversation, error) {
	var conv messaging.Conversation
	err := sqlx.GetContext(ctx, repo.getExec(exec), &conv,
		conversationSelect+", 0 AS unread_count"+conversationJoins+" WHERE c.id = $1", id)
	if err != nil {
		return messaging.Conversation{}, trapNoRowsErr(err, messaging.ErrNotFound, "getting conversation")
	}
	return conv, nil
}

func (repo messagingRepository) QueryConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]messaging.Conversation, error) {
	convs := make([]messaging.Conversation, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &convs, conversationSelect+`,
			(SELECT count(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND NOT m.is_read) AS unread_count`+
		conversationJoins+`
		WHERE c.teacher_id = $1 OR c.parent_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`, userID)
	return convs, errors.Wrap(err, "querying conversations")
}

func (repo messagingRepository) CreateMessage(ctx context.Context, msg messaging.Message, exec ...core.DBExecutor) (messaging.Message, error) {
	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = core.NowFunc()
	}
	err := repo.inTx(ctx, exec, func(e sqlx.ExtContext) error {
		_, err := sqlx.NamedExecContext(ctx, e,
			"INSERT INTO messages ("+messageColumns+`)
			VALUES (:id, :conversation_id, :sender_id, :content, :is_system, :is_read, :created_at)`, msg)
		if err != nil {
			return errors.Wrap(err, "inserting message")
		}
		_, err = e.ExecContext(ctx,
			"UPDATE conversations SET last_message_at = $2 WHERE id = $1", msg.ConversationID, msg.CreatedAt)
		return errors.Wrap(err, "bumping conversation")
	})
	if err != nil {
		return messaging.Message{}, err
	}
	return msg, nil
}

func (repo messagingRepository) QueryMessages(ctx context.Context, conversationID string, exec ...core.DBExecutor) ([]messaging.Message, error) {
	msgs := make([]messaging.Message, 0)
	err := sqlx.SelectContext(ctx, repo.getExec(exec), &msgs,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at, id", conversationID)
	return msgs, errors.Wrap(err, "querying messages")
}

func (repo messagingRepository) MarkRead(ctx context.Context, conversationID, readerID string, exec ...core.DBExecutor) (int, error) {
	n, err := rowsAffected(repo.getExec(exec).ExecContext(ctx,
		"UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read",
		conversationID, readerID))
	return n, errors.Wrap(err, "marking messages read")
}
