package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/loomlabs/loom/backend/internal/archive"
	"github.com/loomlabs/loom/backend/internal/assistant"
	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/files"
	"github.com/loomlabs/loom/backend/internal/projects"
	"github.com/loomlabs/loom/backend/internal/shares"
	"github.com/loomlabs/loom/backend/internal/threads"
)

type fakeGateway struct {
	uploadedFilenames []string
	messages          []assistant.Message
}

func (g *fakeGateway) CreateThread(context.Context) (string, error) {
	return "thread_created", nil
}

func (g *fakeGateway) PostMessage(context.Context, string, string, []assistant.Attachment) error {
	return nil
}

func (g *fakeGateway) StartRun(context.Context, string, string, []assistant.Tool, string) (string, error) {
	return "run_1", nil
}

func (g *fakeGateway) PollRun(context.Context, string, string) (assistant.RunStatus, error) {
	return assistant.RunStatusCompleted, nil
}

func (g *fakeGateway) ListMessages(context.Context, string) ([]assistant.Message, error) {
	return g.messages, nil
}

func (g *fakeGateway) GetFile(context.Context, string) (assistant.FileMetadata, []byte, error) {
	return assistant.FileMetadata{}, nil, fmt.Errorf("no generated files")
}

func (g *fakeGateway) UploadFile(_ context.Context, filename string, _ []byte) (string, error) {
	g.uploadedFilenames = append(g.uploadedFilenames, filename)
	return fmt.Sprintf("file-upstream%d", len(g.uploadedFilenames)), nil
}

type memoryObjectStore struct {
	objects map[string][]byte
}

func (m *memoryObjectStore) Put(_ context.Context, key, _ string, _ int64, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memoryObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjectStore) Remove(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type routerFixture struct {
	handler  http.Handler
	gateway  *fakeGateway
	projects *projects.Service
	threads  *threads.Service
	shares   *shares.Service
	files    *files.Store
}

func newRouterFixture(testContext *testing.T) routerFixture {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(testContext.TempDir(), "server.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(
		&projects.Project{}, &threads.Thread{}, &shares.ThreadShare{},
		&files.BlobFile{}, &files.StorageMetrics{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	clock := func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	idProvider := &sequentialIDProvider{}

	projectService, err := projects.NewService(projects.ServiceConfig{
		Database: database, Clock: clock, IDProvider: idProvider,
	})
	if err != nil {
		testContext.Fatalf("failed to construct project service: %v", err)
	}
	threadService, err := threads.NewService(threads.ServiceConfig{Database: database, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to construct thread service: %v", err)
	}
	shareService, err := shares.NewService(shares.ServiceConfig{
		Database: database, Clock: clock, IDProvider: idProvider,
		PublicBaseURL: "https://loom.example.com",
	})
	if err != nil {
		testContext.Fatalf("failed to construct share service: %v", err)
	}
	sessionIssuer := shares.NewSessionIssuer(shares.SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Clock:         clock,
	})
	fileStore, err := files.NewStore(files.StoreConfig{
		Database:   database,
		Objects:    &memoryObjectStore{objects: map[string][]byte{}},
		Clock:      clock,
		IDProvider: idProvider,
		Limits:     files.Limits{MaxUploadBytes: 1 << 20, RetentionDays: 7},
	})
	if err != nil {
		testContext.Fatalf("failed to construct file store: %v", err)
	}

	gateway := &fakeGateway{messages: []assistant.Message{
		{ID: "msg_2", Role: "assistant", Text: "Reply text.", CreatedAtSeconds: 200},
		{ID: "msg_1", Role: "user", Text: "Question.", CreatedAtSeconds: 100},
	}}
	poller := assistant.NewPoller(assistant.PollerConfig{
		Interval: time.Millisecond,
		MaxTicks: 3,
		Sleep:    func(time.Duration) {},
	})
	chatService, err := chat.NewService(chat.ServiceConfig{
		Gateway:     gateway,
		Poller:      poller,
		Threads:     threadService,
		Files:       fileStore,
		AssistantID: "asst_1",
	})
	if err != nil {
		testContext.Fatalf("failed to construct chat service: %v", err)
	}
	archiveBuilder, err := archive.NewBuilder(archive.BuilderConfig{
		Messages: chatService,
		Files:    fileStore,
	})
	if err != nil {
		testContext.Fatalf("failed to construct archive builder: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Chat:     chatService,
		Projects: projectService,
		Threads:  threadService,
		Shares:   shareService,
		Sessions: sessionIssuer,
		Files:    fileStore,
		Uploader: gateway,
		Archive:  archiveBuilder,
	})
	if err != nil {
		testContext.Fatalf("failed to construct handler: %v", err)
	}

	return routerFixture{
		handler:  handler,
		gateway:  gateway,
		projects: projectService,
		threads:  threadService,
		shares:   shareService,
		files:    fileStore,
	}
}

func (f routerFixture) doJSON(testContext *testing.T, method, path, body string) *httptest.ResponseRecorder {
	testContext.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testContext *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testContext.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	recorder := fixture.doJSON(testContext, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestChatEndpointRunsTurn(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	recorder := fixture.doJSON(testContext, http.MethodPost, "/api/chat",
		`{"message":"Hello there","projectId":"project-1"}`)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(testContext, recorder)
	if payload["threadId"] != "thread_created" {
		testContext.Fatalf("expected created thread id, got %v", payload["threadId"])
	}
	if payload["reply"] != "Reply text." {
		testContext.Fatalf("expected assistant reply, got %v", payload["reply"])
	}
}

func TestChatEndpointRejectsEmptyMessage(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	recorder := fixture.doJSON(testContext, http.MethodPost, "/api/chat", `{"message":"  "}`)
	if recorder.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestProjectLifecycle(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	created := fixture.doJSON(testContext, http.MethodPost, "/api/projects",
		`{"name":"Research","description":"long questions","color":"#123456"}`)
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	projectID, _ := decodeBody(testContext, created)["projectId"].(string)
	if projectID == "" {
		testContext.Fatalf("expected project id in response")
	}

	listed := fixture.doJSON(testContext, http.MethodGet, "/api/projects", "")
	if listed.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", listed.Code)
	}
	if !strings.Contains(listed.Body.String(), projectID) {
		testContext.Fatalf("expected project in listing, got %s", listed.Body.String())
	}

	updated := fixture.doJSON(testContext, http.MethodPut, "/api/projects/"+projectID,
		`{"name":"Renamed"}`)
	if updated.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", updated.Code)
	}
	if decodeBody(testContext, updated)["name"] != "Renamed" {
		testContext.Fatalf("expected renamed project")
	}

	missing := fixture.doJSON(testContext, http.MethodGet, "/api/projects/absent", "")
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown project, got %d", missing.Code)
	}
}

func TestProjectDeleteCascades(testContext *testing.T) {
	fixture := newRouterFixture(testContext)
	ctx := context.Background()

	project, err := fixture.projects.Create(ctx, "Doomed", "", "")
	if err != nil {
		testContext.Fatalf("failed to seed project: %v", err)
	}
	if _, err := fixture.threads.Register(ctx, "thread_1", project.ProjectID, "thread one"); err != nil {
		testContext.Fatalf("failed to seed thread: %v", err)
	}
	if _, err := fixture.shares.Create(ctx, "thread_1", shares.PermissionRead, 7); err != nil {
		testContext.Fatalf("failed to seed share: %v", err)
	}
	saved, err := fixture.files.Save(ctx, files.SaveRequest{
		ThreadID: "thread_1", Filename: "doc.txt", ContentType: "text/plain", Content: []byte("x"),
	})
	if err != nil {
		testContext.Fatalf("failed to seed file: %v", err)
	}

	recorder := fixture.doJSON(testContext, http.MethodDelete, "/api/projects/"+project.ProjectID, "")
	if recorder.Code != http.StatusNoContent {
		testContext.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if _, err := fixture.threads.Get(ctx, "thread_1"); err == nil {
		testContext.Fatalf("expected thread removed")
	}
	remainingShares, err := fixture.shares.ListForThread(ctx, "thread_1")
	if err != nil {
		testContext.Fatalf("failed to list shares: %v", err)
	}
	if len(remainingShares) != 0 {
		testContext.Fatalf("expected shares purged, got %d", len(remainingShares))
	}
	if _, err := fixture.files.Record(ctx, saved.FileID); err == nil {
		testContext.Fatalf("expected blob removed")
	}
}

func TestThreadGetReturnsConversation(testContext *testing.T) {
	fixture := newRouterFixture(testContext)
	if _, err := fixture.threads.Register(context.Background(), "thread_1", "project-1", "my thread"); err != nil {
		testContext.Fatalf("failed to seed thread: %v", err)
	}

	recorder := fixture.doJSON(testContext, http.MethodGet, "/api/threads/thread_1", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(testContext, recorder)
	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 2 {
		testContext.Fatalf("expected 2 messages, got %v", payload["messages"])
	}

	missing := fixture.doJSON(testContext, http.MethodGet, "/api/threads/absent", "")
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown thread, got %d", missing.Code)
	}
}

func TestFileUploadAndServe(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("threadId", "thread_1"); err != nil {
		testContext.Fatalf("failed to write field: %v", err)
	}
	part, err := writer.CreateFormFile("file", "notes.txt")
	if err != nil {
		testContext.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte("file body")); err != nil {
		testContext.Fatalf("failed to write form file: %v", err)
	}
	writer.Close() //nolint:errcheck

	request := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	fileID, _ := decodeBody(testContext, recorder)["fileId"].(string)
	if fileID == "" {
		testContext.Fatalf("expected file id in response")
	}
	if len(fixture.gateway.uploadedFilenames) != 1 {
		testContext.Fatalf("expected assistant-side upload, got %d", len(fixture.gateway.uploadedFilenames))
	}

	served := fixture.doJSON(testContext, http.MethodGet, "/api/files/"+fileID, "")
	if served.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", served.Code)
	}
	if !strings.HasPrefix(served.Header().Get("Content-Disposition"), "attachment") {
		testContext.Fatalf("expected attachment disposition, got %q", served.Header().Get("Content-Disposition"))
	}
	if served.Body.String() != "file body" {
		testContext.Fatalf("expected stored content, got %q", served.Body.String())
	}

	preview := fixture.doJSON(testContext, http.MethodGet, "/api/files/"+fileID+"?preview=true", "")
	if !strings.HasPrefix(preview.Header().Get("Content-Disposition"), "inline") {
		testContext.Fatalf("expected inline disposition, got %q", preview.Header().Get("Content-Disposition"))
	}
}

func TestFileUploadRejectsUnsupportedType(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "tool.exe")
	if err != nil {
		testContext.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte{0x4d, 0x5a}); err != nil {
		testContext.Fatalf("failed to write form file: %v", err)
	}
	writer.Close() //nolint:errcheck

	request := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnsupportedMediaType {
		testContext.Fatalf("expected 415, got %d", recorder.Code)
	}
	if len(fixture.gateway.uploadedFilenames) != 0 {
		testContext.Fatalf("expected no upstream upload for rejected file")
	}
}

func TestShareLifecycleAndSharedAccess(testContext *testing.T) {
	fixture := newRouterFixture(testContext)
	if _, err := fixture.threads.Register(context.Background(), "thread_1", "project-1", "shared thread"); err != nil {
		testContext.Fatalf("failed to seed thread: %v", err)
	}

	created := fixture.doJSON(testContext, http.MethodPost, "/api/threads/thread_1/shares",
		`{"permissions":"collaborate","expiryDays":7}`)
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	payload := decodeBody(testContext, created)
	token, _ := payload["token"].(string)
	if token == "" {
		testContext.Fatalf("expected share token")
	}
	if payload["permissions"] != "collaborate" {
		testContext.Fatalf("expected permissions echoed in create response, got %v", payload)
	}
	if url, _ := payload["url"].(string); url != "https://loom.example.com/shared/thread/"+token {
		testContext.Fatalf("unexpected share url %q", url)
	}

	view := fixture.doJSON(testContext, http.MethodGet, "/shared/thread/"+token, "")
	if view.Code != http.StatusOK {
		testContext.Fatalf("expected 200 for shared view, got %d", view.Code)
	}
	if decodeBody(testContext, view)["permissions"] != "collaborate" {
		testContext.Fatalf("expected collaborate permissions in view")
	}

	session := fixture.doJSON(testContext, http.MethodPost, "/shared/thread/"+token+"/session", "")
	if session.Code != http.StatusOK {
		testContext.Fatalf("expected 200 for session exchange, got %d: %s", session.Code, session.Body.String())
	}
	sessionToken, _ := decodeBody(testContext, session)["sessionToken"].(string)
	if sessionToken == "" {
		testContext.Fatalf("expected session token")
	}

	unauthorized := fixture.doJSON(testContext, http.MethodPost, "/shared/thread/"+token+"/chat",
		`{"message":"hello"}`)
	if unauthorized.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without session, got %d", unauthorized.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/shared/thread/"+token+"/chat",
		strings.NewReader(`{"message":"hello from a guest"}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+sessionToken)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200 for collaborate turn, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(testContext, recorder)["reply"] != "Reply text." {
		testContext.Fatalf("expected assistant reply on shared turn")
	}

	revoked := fixture.doJSON(testContext, http.MethodDelete, "/api/shares/"+token, "")
	if revoked.Code != http.StatusNoContent {
		testContext.Fatalf("expected 204, got %d", revoked.Code)
	}
	gone := fixture.doJSON(testContext, http.MethodGet, "/shared/thread/"+token, "")
	if gone.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 after revoke, got %d", gone.Code)
	}
}

func TestSharedSessionRejectsReadShare(testContext *testing.T) {
	fixture := newRouterFixture(testContext)
	if _, err := fixture.threads.Register(context.Background(), "thread_1", "project-1", "shared thread"); err != nil {
		testContext.Fatalf("failed to seed thread: %v", err)
	}
	share, err := fixture.shares.Create(context.Background(), "thread_1", shares.PermissionRead, 7)
	if err != nil {
		testContext.Fatalf("failed to seed share: %v", err)
	}

	recorder := fixture.doJSON(testContext, http.MethodPost, "/shared/thread/"+share.Token+"/session", "")
	if recorder.Code != http.StatusForbidden {
		testContext.Fatalf("expected 403 for read-only share, got %d", recorder.Code)
	}
}

func TestShareCreateRejectsUnknownThread(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	recorder := fixture.doJSON(testContext, http.MethodPost, "/api/threads/absent/shares",
		`{"permissions":"read","expiryDays":7}`)
	if recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestThreadArchiveDownload(testContext *testing.T) {
	fixture := newRouterFixture(testContext)
	if _, err := fixture.threads.Register(context.Background(), "thread_1", "project-1", "archive me"); err != nil {
		testContext.Fatalf("failed to seed thread: %v", err)
	}

	recorder := fixture.doJSON(testContext, http.MethodGet, "/api/threads/thread_1/archive", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Header().Get("Content-Type") != "application/zip" {
		testContext.Fatalf("expected zip content type, got %q", recorder.Header().Get("Content-Type"))
	}
	if !strings.Contains(recorder.Header().Get("Content-Disposition"), "thread-thread_1.zip") {
		testContext.Fatalf("expected archive filename, got %q", recorder.Header().Get("Content-Disposition"))
	}
}

func TestAdminEndpoints(testContext *testing.T) {
	fixture := newRouterFixture(testContext)

	cleanup := fixture.doJSON(testContext, http.MethodPost, "/api/admin/storage/cleanup", "")
	if cleanup.Code != http.StatusOK {
		testContext.Fatalf("expected 200 for cleanup, got %d", cleanup.Code)
	}

	recompute := fixture.doJSON(testContext, http.MethodPost, "/api/admin/storage/recompute", "")
	if recompute.Code != http.StatusOK {
		testContext.Fatalf("expected 200 for recompute, got %d", recompute.Code)
	}

	if _, err := fixture.threads.Register(context.Background(), "thread_dirty", "project-1",
		"Compare plans 【4†source】"); err != nil {
		testContext.Fatalf("failed to seed thread: %v", err)
	}
	content := fixture.doJSON(testContext, http.MethodPost, "/api/admin/content/cleanup", "")
	if content.Code != http.StatusOK {
		testContext.Fatalf("expected 200 for content cleanup, got %d", content.Code)
	}
	if decodeBody(testContext, content)["updatedThreads"] != float64(1) {
		testContext.Fatalf("expected one scrubbed title, got %s", content.Body.String())
	}

	thread, err := fixture.threads.Get(context.Background(), "thread_dirty")
	if err != nil {
		testContext.Fatalf("failed to reload thread: %v", err)
	}
	if thread.Title != "Compare plans" {
		testContext.Fatalf("expected scrubbed title, got %q", thread.Title)
	}
}
