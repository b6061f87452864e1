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
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"compliancehub/internal/app"
	"compliancehub/internal/config"
	"compliancehub/internal/db"
	"compliancehub/internal/domain"
	"compliancehub/internal/engine/auth"
	"compliancehub/internal/migrate"
	"compliancehub/internal/repo"
)

type testServer struct {
	URL      string
	client   *http.Client
	services *app.Services
	valleyID int64
	process  int64
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := log.New()
	logger.SetOutput(io.Discard)
	cfg := config.Default()
	cfg.Jobs.Timezone = "UTC"
	env := config.Env{JWTSecret: "test-secret", AzureContainer: "documents", FrontendURL: "http://localhost:3000"}
	services, err := app.Wire(ctx, conn, env, cfg, logger)
	if err != nil {
		t.Fatalf("wire services: %v", err)
	}
	services.Auth.Cost = bcrypt.MinCost
	services.Engine.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	valley, err := services.Engine.Repo.InsertLookup(ctx, conn, repo.LookupValleys, "Huasco")
	if err != nil {
		t.Fatalf("seed valley: %v", err)
	}
	process, err := services.Engine.Repo.InsertLookup(ctx, conn, repo.LookupProcesses, "Inversión social")
	if err != nil {
		t.Fatalf("seed process: %v", err)
	}

	handler, err := New(Config{
		Engine:         services.Engine,
		Auth:           services.Auth,
		Reports:        services.Reports,
		Jobs:           services.Jobs,
		FrontendURL:    env.FrontendURL,
		Log:            logger,
		MaxUploadBytes: 1 << 10,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL + "/api", client: srv.Client(), services: services, valleyID: valley, process: process}
}

// login creates a verified user with role and returns an Authorization header for them.
func (s *testServer) login(t *testing.T, email, role string) map[string]string {
	t.Helper()
	if _, err := s.services.Auth.CreateUser(context.Background(), auth.UserInput{
		Name: email, Email: email, Password: "password123", Role: role,
	}, true); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/auth/login", map[string]any{
		"email": email, "password": "password123",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, data)
	}
	var body LoginResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if body.User.RoleName != role {
		t.Fatalf("login role = %s", body.User.RoleName)
	}
	return map[string]string{"Authorization": "Bearer " + body.Token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %T: %v: %s", v, err, data)
	}
	return v
}

func (s *testServer) createTask(t *testing.T, headers map[string]string, name string) domain.Task {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/tasks", map[string]any{
		"name": name, "valley_id": s.valleyID, "process_id": s.process,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	return decode[domain.Task](t, data)
}

func TestHealthIsPublicAndAPIRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/login", map[string]any{"email": "ghost@example.com", "password": "whatever1"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown login, got %d", res.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@example.com", "admin")
	task := srv.createTask(t, admin, "Mesa de trabajo Freirina")

	for _, expense := range []int64{1200, 800} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/tasks/%d/subtasks", srv.URL, task.ID), map[string]any{
			"name": fmt.Sprintf("Gasto %d", expense), "budget": 2000, "expense": expense, "start_date": "2024-02-10",
		}, admin)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create subtask status %d: %s", res.StatusCode, data)
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/compliances", map[string]any{"task_id": task.ID}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create compliance status %d: %s", res.StatusCode, data)
	}
	compliance := decode[domain.Compliance](t, data)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/compliances", map[string]any{"task_id": task.ID}, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for second compliance, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/tasks/%d/summary", srv.URL, task.ID), nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, data)
	}
	if s := decode[map[string]any](t, data); s["expense"].(float64) != 2000 || s["budget"].(float64) != 4000 {
		t.Fatalf("unexpected summary: %v", s)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, fmt.Sprintf("%s/tasks/%d", srv.URL, task.ID), map[string]any{
		"status_id": srv.services.Config.Lifecycle.TaskCompletedStatusID,
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete task status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/history?task_id=%d", srv.URL, task.ID), nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, data)
	}
	history := decode[[]domain.History](t, data)
	if len(history) != 1 || history[0].TotalExpense != 2000 || history[0].FinalDate != "2024-03-01" {
		t.Fatalf("unexpected history: %+v", history)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, fmt.Sprintf("%s/tasks/%d", srv.URL, task.ID), nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete task status %d: %s", res.StatusCode, data)
	}
	snapshot := decode[domain.TaskDetail](t, data)
	if len(snapshot.Subtasks) != 2 || len(snapshot.Compliances) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/tasks/%d", srv.URL, task.ID), nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/compliances/%d", srv.URL, compliance.ID), nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected compliance gone, got %d", res.StatusCode)
	}
}

func TestViewerIsReadOnly(t *testing.T) {
	srv := newTestServer(t)
	viewer := srv.login(t, "viewer@example.com", "viewer")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks", map[string]any{
		"name": "x", "valley_id": srv.valleyID, "process_id": srv.process,
	}, viewer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/tasks", nil, viewer)
	if res.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/users", nil, viewer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on users, got %d", res.StatusCode)
	}
}

func TestDuplicateTaskConflicts(t *testing.T) {
	srv := newTestServer(t)
	editor := srv.login(t, "editor@example.com", "editor")
	srv.createTask(t, editor, "Convenio APR")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks", map[string]any{
		"name": "Convenio APR", "valley_id": srv.valleyID, "process_id": srv.process,
	}, editor)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks", map[string]any{"name": "sin valle"}, editor)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d: %s", res.StatusCode, data)
	}
}

func TestRegistryHoldsSolpedOrMemo(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@example.com", "admin")
	task := srv.createTask(t, admin, "Sede social")
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/compliances", map[string]any{"task_id": task.ID}, admin)
	compliance := decode[domain.Compliance](t, data)
	res, data := doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/compliances/%d/registries", srv.URL, compliance.ID), map[string]any{
		"provider": "Constructora Norte", "hes": true,
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create registry status %d: %s", res.StatusCode, data)
	}
	reg := decode[domain.Registry](t, data)

	res, data = doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/registries/%d/solped", srv.URL, reg.ID), map[string]any{"valor": 500, "number": 4500012}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach solped status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/registries/%d/memo", srv.URL, reg.ID), map[string]any{"valor": 500}, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for memo on solped registry, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/compliances/%d/advance", srv.URL, compliance.ID), nil, admin)
	if res.StatusCode != http.StatusOK || decode[domain.Compliance](t, data).StatusID != 2 {
		t.Fatalf("advance status %d: %s", res.StatusCode, data)
	}
}

func TestOversizedUploadIsRejected(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@example.com", "admin")
	task := srv.createTask(t, admin, "Archivo grande")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("task_id", fmt.Sprint(task.ID))
	fw, err := mw.CreateFormFile("file", "grande.bin")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(bytes.Repeat([]byte("x"), 4<<10))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", admin["Authorization"])
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "payload_too_large") {
		t.Fatalf("unexpected error body %s", data)
	}
	docs, err := srv.services.Engine.ListDocuments(context.Background(), task.ID)
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected no document recorded: %v %d", err, len(docs))
	}
}

func TestDocumentUploadDownloadDelete(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@example.com", "admin")
	task := srv.createTask(t, admin, "Plan de riego")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("task_id", fmt.Sprint(task.ID)); err != nil {
		t.Fatal(err)
	}
	if err := mw.WriteField("type_id", "3"); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("file", "Acta reunión.pdf")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, "%PDF-1.4 contenido")
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", admin["Authorization"])
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", res.StatusCode, data)
	}
	doc := decode[domain.Document](t, data)
	if doc.Filename != "Acta reunión.pdf" || doc.Size != int64(len("%PDF-1.4 contenido")) || doc.TaskID == nil || *doc.TaskID != task.ID {
		t.Fatalf("unexpected document: %+v", doc)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/documents/%d/download", srv.URL, doc.ID), nil, admin)
	if res.StatusCode != http.StatusOK || string(data) != "%PDF-1.4 contenido" {
		t.Fatalf("download status %d: %q", res.StatusCode, data)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Fatalf("content-disposition = %q", cd)
	}
	if res.Header.Get("Content-Length") != fmt.Sprint(doc.Size) {
		t.Fatalf("content-length = %q", res.Header.Get("Content-Length"))
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, fmt.Sprintf("%s/documents/%d", srv.URL, doc.ID), nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
	if !decode[map[string]any](t, data)["blob_deleted"].(bool) {
		t.Fatalf("blob should be deleted for a task without history: %s", data)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/documents/%d/download", srv.URL, doc.ID), nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestMonthlyReport(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@example.com", "admin")
	task := srv.createTask(t, admin, "Becas")
	for _, start := range []string{"2024-01-05", "2024-02-05"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/tasks/%d/subtasks", srv.URL, task.ID), map[string]any{
			"name": "Pago " + start, "budget": 100, "expense": 10, "start_date": start,
		}, admin)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create subtask status %d: %s", res.StatusCode, data)
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/reports/monthly?month=Enero&year=2024", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report status %d: %s", res.StatusCode, data)
	}
	if r := decode[MonthlyReport](t, data); r.Budget != 100 || r.Expense != 10 {
		t.Fatalf("unexpected report: %+v", r)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/reports/monthly?month=january&year=2024", nil, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown month, got %d", res.StatusCode)
	}
}

func TestNotificationsAfterJobRun(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin@example.com", "admin")
	task := srv.createTask(t, admin, "Huertos comunitarios")
	res, data := doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/tasks/%d/subtasks", srv.URL, task.ID), map[string]any{
		"name": "Compra semillas", "end_date": "2024-02-01",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/jobs/task-expiry/run", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run job status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/notifications?unread=true", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, data)
	}
	items := decode[[]domain.Notification](t, data)
	if len(items) != 1 || items[0].EntityID != task.ID {
		t.Fatalf("unexpected notifications: %+v", items)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/notifications/%d/read", srv.URL, items[0].ID), nil, admin)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read status %d", res.StatusCode)
	}
}
