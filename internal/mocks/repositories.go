package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"association-chat/internal/models"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int64) (models.StaffUser, error) {
	args := m.Called(ctx, userID)
	var user models.StaffUser
	if val := args.Get(0); val != nil {
		user = val.(models.StaffUser)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByEmail(ctx context.Context, email string) (models.StaffUser, error) {
	args := m.Called(ctx, email)
	var user models.StaffUser
	if val := args.Get(0); val != nil {
		user = val.(models.StaffUser)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) ListStaff(ctx context.Context, excludeID int64) ([]models.Counterpart, error) {
	args := m.Called(ctx, excludeID)
	var list []models.Counterpart
	if val := args.Get(0); val != nil {
		list = val.([]models.Counterpart)
	}
	return list, args.Error(1)
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, user models.StaffUser) (models.StaffUser, error) {
	args := m.Called(ctx, user)
	var created models.StaffUser
	if val := args.Get(0); val != nil {
		created = val.(models.StaffUser)
	}
	return created, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, senderID, receiverID int64, content string, messageType models.MessageType) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content, messageType)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	args := m.Called(ctx, userID, otherID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, readerID, senderID int64) (int64, error) {
	args := m.Called(ctx, readerID, senderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}
