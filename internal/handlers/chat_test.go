package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/middleware"
	"marketplace-chat/internal/mocks"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/service"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/telemetry"
)

func setupChatRouter(handler *ChatHandler, userName string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserNameKey, userName)
		c.Next()
	})
	r.GET("/chats", handler.ListSessions)
	r.POST("/chats/messages", handler.SendMessage)
	r.PUT("/chats/:userName/:counterpart/seen", handler.MarkSeen)
	r.GET("/chats/:userName/:counterpart/messages", handler.GetMessages)
	return r
}

func newMemoryHandler(files FileStore) (*ChatHandler, *repositories.MemoryChatStore) {
	store := repositories.NewMemoryChatStore()
	svc := service.NewChatService(store, nil, nil, nil)
	return NewChatHandler(svc, files, nil, nil), store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageJSON(t *testing.T) {
	handler, store := newMemoryHandler(nil)
	router := setupChatRouter(handler, "alice")

	rec := doJSON(t, router, http.MethodPost, "/chats/messages", `{"receiverUserName":"bob","content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.Sender)
	require.NotNil(t, msg.Content)
	assert.Equal(t, "hi", *msg.Content)
	assert.False(t, msg.Received)
	assert.False(t, msg.Seen)

	bobCopy, err := store.FindMessage(context.Background(), "bob", "alice", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, bobCopy.ID)
}

func TestSendMessageValidation(t *testing.T) {
	handler, _ := newMemoryHandler(nil)
	router := setupChatRouter(handler, "alice")

	cases := map[string]string{
		"missing receiver": `{"content":"hi"}`,
		"empty message":    `{"receiverUserName":"bob","content":"  "}`,
		"self send":        `{"receiverUserName":"alice","content":"hi"}`,
		"malformed":        `{"receiverUserName":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/chats/messages", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSendMessageMultipartWithFile(t *testing.T) {
	files := new(mocks.FileStoreMock)
	handler, _ := newMemoryHandler(files)
	router := setupChatRouter(handler, "alice")

	files.On("Save", mock.Anything, "alice", mock.AnythingOfType("*multipart.FileHeader")).
		Return("/uploads/alice/1_abc.png", nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartSend(t, "bob"))

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Nil(t, msg.Content)
	require.NotNil(t, msg.File)
	assert.Equal(t, "/uploads/alice/1_abc.png", *msg.File)
	files.AssertExpectations(t)
}

func TestSendMessagePartialWrite(t *testing.T) {
	store := new(mocks.ChatStoreMock)
	repairs := new(mocks.RepairQueueMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-service", "test", nil)
	handler := NewChatHandler(service.NewChatService(store, nil, repairs, nil), nil, audit, nil)
	router := setupChatRouter(handler, "alice")

	store.On("AppendMessage", mock.Anything, "alice", "bob", mock.Anything).Return(nil).Once()
	store.On("AppendMessage", mock.Anything, "bob", "alice", mock.Anything).Return(assert.AnError).Once()
	repairs.On("Enqueue", mock.Anything, mock.MatchedBy(func(task models.RepairTask) bool {
		return task.Owner == "bob" && task.Counterpart == "alice"
	})).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).Return(nil).Once()

	rec := doJSON(t, router, http.MethodPost, "/chats/messages", `{"receiverUserName":"bob","content":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp["messageId"])
	store.AssertExpectations(t)
	repairs.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestMarkSeen(t *testing.T) {
	handler, store := newMemoryHandler(nil)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2"} {
		text := "hi"
		require.NoError(t, store.AppendMessage(ctx, "bob", "alice", models.Message{ID: id, Sender: "alice", Content: &text}))
	}
	router := setupChatRouter(handler, "bob")

	rec := doJSON(t, router, http.MethodPut, "/chats/bob/alice/seen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Message string `json:"message"`
		Updated int    `json:"updated"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "all messages marked as seen", resp.Message)
	assert.Equal(t, 2, resp.Updated)

	session, err := store.GetSession(ctx, "bob", "alice")
	require.NoError(t, err)
	for _, msg := range session.Messages {
		assert.True(t, msg.Seen)
		assert.True(t, msg.Received)
	}
}

func TestMarkSeenErrors(t *testing.T) {
	handler, _ := newMemoryHandler(nil)
	router := setupChatRouter(handler, "bob")

	assert.Equal(t, http.StatusForbidden, doJSON(t, router, http.MethodPut, "/chats/alice/bob/seen", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, router, http.MethodPut, "/chats/bob/alice/seen", "").Code)

	store := new(mocks.ChatStoreMock)
	store.On("MarkSeen", mock.Anything, "bob", "alice").Return(0, assert.AnError).Once()
	router = setupChatRouter(NewChatHandler(service.NewChatService(store, nil, nil, nil), nil, nil, nil), "bob")
	assert.Equal(t, http.StatusInternalServerError, doJSON(t, router, http.MethodPut, "/chats/bob/alice/seen", "").Code)
	store.AssertExpectations(t)
}

func TestGetMessages(t *testing.T) {
	handler, store := newMemoryHandler(nil)
	text := "hello"
	require.NoError(t, store.AppendMessage(context.Background(), "bob", "alice", models.Message{ID: "m1", Sender: "alice", Content: &text}))
	router := setupChatRouter(handler, "bob")

	rec := doJSON(t, router, http.MethodGet, "/chats/bob/alice/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "m1", resp.Messages[0].ID)

	assert.Equal(t, http.StatusForbidden, doJSON(t, router, http.MethodGet, "/chats/alice/bob/messages", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, router, http.MethodGet, "/chats/bob/carol/messages", "").Code)
}

func TestListSessions(t *testing.T) {
	handler, store := newMemoryHandler(nil)
	text := "hello"
	require.NoError(t, store.AppendMessage(context.Background(), "bob", "alice", models.Message{ID: "m1", Sender: "alice", Content: &text}))

	rec := doJSON(t, setupChatRouter(handler, "bob"), http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []models.SessionSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, "alice", resp.Chats[0].CounterpartUserName)
	assert.Equal(t, 1, resp.Chats[0].UnreadCount)

	rec = doJSON(t, setupChatRouter(handler, "nobody"), http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chats":[]}`, rec.Body.String())
}

func TestDebugAuditRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope"), mock.Anything).Return(nil).Once()

	r := gin.New()
	RegisterDebugRoutes(r, telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-service", "test", nil), true)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)

	disabled := gin.New()
	RegisterDebugRoutes(disabled, nil, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartSend(t *testing.T, receiver string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("receiverUserName", receiver))
	part, err := writer.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/messages", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func storedUploads(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestSendMessageRejectedMultipartStoresNoFile(t *testing.T) {
	dir := t.TempDir()
	handler, _ := newMemoryHandler(storage.NewLocalFileStore(dir, "/uploads", nil))
	router := setupChatRouter(handler, "alice")

	for _, receiver := range []string{"", "  ", "alice"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, multipartSend(t, receiver))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "receiver %q", receiver)
	}
	assert.Empty(t, storedUploads(t, dir))
}

func TestSendMessageFailureRemovesUpload(t *testing.T) {
	dir := t.TempDir()
	store := new(mocks.ChatStoreMock)
	store.On("AppendMessage", mock.Anything, "alice", "bob", mock.Anything).Return(assert.AnError).Once()
	files := storage.NewLocalFileStore(dir, "/uploads", nil)
	handler := NewChatHandler(service.NewChatService(store, nil, nil, nil), files, nil, nil)
	router := setupChatRouter(handler, "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartSend(t, "bob"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, storedUploads(t, dir))
	store.AssertExpectations(t)
}

func TestSendMessagePartialWriteKeepsUpload(t *testing.T) {
	dir := t.TempDir()
	store := new(mocks.ChatStoreMock)
	store.On("AppendMessage", mock.Anything, "alice", "bob", mock.Anything).Return(nil).Once()
	store.On("AppendMessage", mock.Anything, "bob", "alice", mock.Anything).Return(assert.AnError).Once()
	files := storage.NewLocalFileStore(dir, "/uploads", nil)
	handler := NewChatHandler(service.NewChatService(store, nil, nil, nil), files, nil, nil)
	router := setupChatRouter(handler, "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartSend(t, "bob"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, storedUploads(t, dir), 1, "the sender copy references the attachment")
	store.AssertExpectations(t)
}
