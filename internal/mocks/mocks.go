package mocks

import (
	"context"
	"mime/multipart"

	"github.com/stretchr/testify/mock"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/repositories"
)

type ChatStoreMock struct {
	mock.Mock
}

func (m *ChatStoreMock) FindByUserName(ctx context.Context, userName string) (models.UserChats, error) {
	args := m.Called(ctx, userName)
	var record models.UserChats
	if val := args.Get(0); val != nil {
		record = val.(models.UserChats)
	}
	return record, args.Error(1)
}

func (m *ChatStoreMock) GetSession(ctx context.Context, owner, counterpart string) (models.ChatSession, error) {
	args := m.Called(ctx, owner, counterpart)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *ChatStoreMock) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	args := m.Called(ctx, owner)
	var list []models.SessionSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.SessionSummary)
	}
	return list, args.Error(1)
}

func (m *ChatStoreMock) AppendMessage(ctx context.Context, owner, counterpart string, msg models.Message) error {
	args := m.Called(ctx, owner, counterpart, msg)
	return args.Error(0)
}

func (m *ChatStoreMock) FindMessage(ctx context.Context, owner, counterpart, messageID string) (models.Message, error) {
	args := m.Called(ctx, owner, counterpart, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatStoreMock) MarkReceived(ctx context.Context, owner, counterpart, messageID string) error {
	args := m.Called(ctx, owner, counterpart, messageID)
	return args.Error(0)
}

func (m *ChatStoreMock) MarkSeen(ctx context.Context, owner, counterpart string) (int, error) {
	args := m.Called(ctx, owner, counterpart)
	return args.Int(0), args.Error(1)
}

type PusherMock struct {
	mock.Mock
}

func (m *PusherMock) Push(ctx context.Context, userName string, event models.ChatEvent) error {
	args := m.Called(ctx, userName, event)
	return args.Error(0)
}

type RepairQueueMock struct {
	mock.Mock
}

func (m *RepairQueueMock) Enqueue(ctx context.Context, task models.RepairTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type FileStoreMock struct {
	mock.Mock
}

func (m *FileStoreMock) Save(ctx context.Context, owner string, header *multipart.FileHeader) (string, error) {
	args := m.Called(ctx, owner, header)
	return args.String(0), args.Error(1)
}

func (m *FileStoreMock) Remove(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

var _ repositories.ChatStore = (*ChatStoreMock)(nil)
var _ interface {
	Push(context.Context, string, models.ChatEvent) error
} = (*PusherMock)(nil)
var _ interface {
	Enqueue(context.Context, models.RepairTask) error
} = (*RepairQueueMock)(nil)
