package messaging

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/notification"
	"github.com/steamspark/spark/core/user"
)

var (
	ErrNotFound           = core.NewNotFoundError("conversation")
	ErrEmptyMessage       = core.NewValidationError(nil, core.FieldError{Field: "content", Error: "this field is required"})
	errNotParticipant     = core.NewPermissionError("you are not part of this conversation")
	errInvalidCounterpart = core.NewValidationError(errors.New("conversations are between a teacher and a parent"))
)

type (
	Repository interface {
		// GetOrCreateConversation returns the conversation of a teacher and a parent, creating it when missing.
		// The returned bool is true when the conversation was created by this call.
		GetOrCreateConversation(ctx context.Context, teacherID, parentID string, exec ...core.DBExecutor) (Conversation, bool, error)
		GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (Conversation, error)
		// QueryConversations returns the conversations of a user, the most recently active first,
		// with the count of messages the user has not read.
		QueryConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Conversation, error)
		// CreateMessage inserts the message and bumps the conversation's last message time.
		CreateMessage(ctx context.Context, msg Message, exec ...core.DBExecutor) (Message, error)
		QueryMessages(ctx context.Context, conversationID string, exec ...core.DBExecutor) ([]Message, error)
		// MarkRead marks the messages of a conversation not sent by readerID as read.
		MarkRead(ctx context.Context, conversationID, readerID string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		GetOrCreateConversation(ctx context.Context, teacherID, parentID string) (Conversation, bool, error)
		// Open returns the conversation of usr with another user, creating it when missing.
		Open(ctx context.Context, usr user.User, counterpartID string) (Conversation, error)
		Conversations(ctx context.Context, viewer user.User) ([]Conversation, error)
		Send(ctx context.Context, sender user.User, conversationID, content string) (Message, error)
		// PostSystemMessage adds an automated message to a conversation without notifying anyone.
		PostSystemMessage(ctx context.Context, conversationID, senderID, content string) (Message, error)
		List(ctx context.Context, viewer user.User, conversationID string) ([]Message, error)
	}

	service struct {
		repo     Repository
		usrRepo  user.Repository
		notifier notification.Service
		logger   core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrRepo user.Repository, notifier notification.Service, logger core.Logger) Service {
	return &service{
		repo:     repo,
		usrRepo:  usrRepo,
		notifier: notifier,
		logger:   logger,
	}
}

func (svc *service) GetOrCreateConversation(ctx context.Context, teacherID, parentID string) (Conversation, bool, error) {
	conv, isNew, err := svc.repo.GetOrCreateConversation(ctx, teacherID, parentID)
	return conv, isNew, errors.Wrap(err, "getting conversation")
}

func (svc *service) Open(ctx context.Context, usr user.User, counterpartID string) (Conversation, error) {
	other, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: counterpartID})
	if err != nil {
		return Conversation{}, err
	}
	var conv Conversation
	switch {
	case usr.IsParent() && other.IsTeacher():
		conv, _, err = svc.GetOrCreateConversation(ctx, other.ID, usr.ID)
	case usr.IsTeacher() && other.IsParent():
		conv, _, err = svc.GetOrCreateConversation(ctx, usr.ID, other.ID)
	default:
		return Conversation{}, errInvalidCounterpart
	}
	return conv, err
}

func (svc *service) Conversations(ctx context.Context, viewer user.User) ([]Conversation, error) {
	convs, err := svc.repo.QueryConversations(ctx, viewer.ID)
	return convs, errors.Wrap(err, "querying conversations")
}

func (svc *service) participantConversation(ctx context.Context, userID, conversationID string) (Conversation, error) {
	conv, err := svc.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if !conv.IsParticipant(userID) {
		return Conversation{}, errNotParticipant
	}
	return conv, nil
}

func (svc *service) Send(ctx context.Context, sender user.User, conversationID, content string) (Message, error) {
	content = core.CleanString(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	conv, err := svc.participantConversation(ctx, sender.ID, conversationID)
	if err != nil {
		return Message{}, err
	}

	msg, err := svc.repo.CreateMessage(ctx, Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Content:        content,
		CreatedAt:      core.NowFunc(),
	})
	if err != nil {
		return Message{}, errors.Wrap(err, "creating message")
	}
	svc.notifyRecipient(ctx, sender, conv, msg)
	return msg, nil
}

func (svc *service) notifyRecipient(ctx context.Context, sender user.User, conv Conversation, msg Message) {
	recipient, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: conv.Counterpart(sender.ID)})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("getting recipient of message %s: %v", msg.ID, err), err)
		return
	}

	actionURL := "/parent/messages"
	if sender.ID == conv.ParentID {
		actionURL = "/teacher/messages"
	}
	senderName := sender.DisplayName("Someone")
	preview := msg.Preview()
	errs := svc.notifier.Dispatch(ctx, notification.Delivery{
		Recipient: recipient,
		InApp: notification.New(
			recipient.ID, notification.TypeNewMessage, "New Message",
			fmt.Sprintf("%s: \"%s\"", senderName, preview),
			actionURL,
		),
		WhatsApp: &notification.WhatsAppMessage{
			Template: notification.TemplateNewMessage,
			Vars:     notification.Vars{"senderName": senderName, "preview": preview},
		},
	})
	for _, err := range errs {
		svc.logger.Warn(fmt.Sprintf("message %s notification: %v", msg.ID, err), err)
	}
}

func (svc *service) PostSystemMessage(ctx context.Context, conversationID, senderID, content string) (Message, error) {
	msg, err := svc.repo.CreateMessage(ctx, Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsSystem:       true,
		CreatedAt:      core.NowFunc(),
	})
	return msg, errors.Wrap(err, "creating system message")
}

func (svc *service) List(ctx context.Context, viewer user.User, conversationID string) ([]Message, error) {
	conv, err := svc.participantConversation(ctx, viewer.ID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := svc.repo.QueryMessages(ctx, conv.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	if _, err := svc.repo.MarkRead(ctx, conv.ID, viewer.ID); err != nil {
		svc.logger.Warn(fmt.Sprintf("marking messages of %s read: %v", conv.ID, err), err)
	}
	return msgs, nil
}
