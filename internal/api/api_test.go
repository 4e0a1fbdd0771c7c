package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/repolens/internal/auth"
	"github.com/sprite-ai/repolens/internal/config"
	"github.com/sprite-ai/repolens/internal/filetree"
	"github.com/sprite-ai/repolens/internal/githost"
	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/jump"
	"github.com/sprite-ai/repolens/internal/model"
)

const appSource = "export function add(a: number, b: number) {\n  return a + b\n}\n"

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newGitHubStub serves octo/hello and octo/other. The hello "slow" branch tree
// and src/slow.ts wait for gate to close.
func newGitHubStub(t *testing.T, gate <-chan struct{}) *httptest.Server {
	t.Helper()
	wait := func(r *http.Request) bool {
		select {
		case <-gate:
			return true
		case <-r.Context().Done():
			return false
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{"login": "octo"})
	})
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{{
			"name": "hello", "full_name": "octo/hello",
			"owner": map[string]any{"login": "octo"}, "default_branch": "main",
		}})
	})
	mux.HandleFunc("GET /repos/octo/hello", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{"default_branch": "main"})
	})
	mux.HandleFunc("GET /repos/octo/hello/branches", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{{"name": "main"}, {"name": "dev"}})
	})
	mux.HandleFunc("GET /repos/octo/hello/git/trees/{ref}", func(w http.ResponseWriter, r *http.Request) {
		entries := []map[string]any{
			{"path": "README.md", "type": "blob", "sha": "r1"},
			{"path": "src", "type": "tree", "sha": "t1"},
			{"path": "src/app.ts", "type": "blob", "sha": "b1"},
		}
		switch r.PathValue("ref") {
		case "dev":
			entries = append(entries, map[string]any{"path": "src/next.ts", "type": "blob", "sha": "b2"})
		case "slow":
			if !wait(r) {
				return
			}
		}
		writeTestJSON(w, map[string]any{"sha": "root", "tree": entries})
	})
	mux.HandleFunc("GET /repos/octo/hello/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("path") == "src/slow.ts" {
			if !wait(r) {
				return
			}
			writeTestJSON(w, map[string]any{
				"type":     "file",
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte(strings.Repeat("let x = 1\n", 40))),
			})
			return
		}
		if r.PathValue("path") != "src/app.ts" {
			w.WriteHeader(http.StatusNotFound)
			writeTestJSON(w, map[string]any{"message": "Not Found"})
			return
		}
		writeTestJSON(w, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(appSource)),
		})
	})
	mux.HandleFunc("GET /repos/octo/other", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{"default_branch": "trunk"})
	})
	mux.HandleFunc("GET /repos/octo/other/branches", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{{"name": "trunk"}})
	})
	mux.HandleFunc("GET /repos/octo/other/git/trees/{ref}", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{"sha": "root2", "tree": []map[string]any{
			{"path": "main.go", "type": "blob", "sha": "m1"},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// backendStub is a fake review backend that records what it was sent.
type backendStub struct {
	mu       sync.Mutex
	reviews  []map[string]any
	uploads  []map[string]any
	projects []string
}

func (b *backendStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.mu.Lock()
		b.reviews = append(b.reviews, payload)
		b.mu.Unlock()
		writeTestJSON(w, map[string]any{
			"file": map[string]any{
				"overallFileScore": 71.4,
				"metrics":          map[string]any{"testCoverageEstimate": 40, "documentationScore": 90, "readability": 65},
			},
			"topIssues": []map[string]any{
				{"line": 2, "severity": "critical", "type": "Security", "message": "Unchecked input"},
			},
		})
	})
	mux.HandleFunc("POST /review", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.mu.Lock()
		b.uploads = append(b.uploads, payload)
		b.mu.Unlock()
		writeTestJSON(w, []map[string]any{{"file": map[string]any{"overallFileScore": 88}, "topIssues": []any{}}})
	})
	mux.HandleFunc("GET /reviews/last", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.projects = append(b.projects, r.URL.Query().Get("project"))
		b.mu.Unlock()
		writeTestJSON(w, map[string]any{
			"exists":    true,
			"createdAt": "2026-01-02T03:04:05",
			"fileScore": 64,
			"issues":    []map[string]any{{"line": 1, "severity": "minor", "type": "Documentation", "message": "Missing doc <comment>"}},
		})
	})
	mux.HandleFunc("GET /reviews/full/last", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /reviews/files", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{"files": []any{"/src/app.ts"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	srv     *Server
	auth    *auth.Manager
	backend *backendStub
	cookie  *http.Cookie
	release func() // lets gated stub requests finish
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	gh := newGitHubStub(t, gate)
	t.Cleanup(release)
	backend := &backendStub{}
	bs := backend.server(t)

	cfg := config.DefaultConfig()
	cfg.Review.BaseURL = bs.URL
	cfg.Review.WebhookURL = bs.URL + "/webhook"
	cfg.Review.RatePerMinute = 0

	mgr := auth.NewManager(auth.Options{BaseURL: cfg.BaseURL, Session: cfg.Session})
	rec := httptest.NewRecorder()
	mgr.Start(rec, model.Session{Provider: model.ProviderGitHub, AccessToken: "tok", User: "octo"})

	srv := New(Options{
		Config: &cfg,
		Auth:   mgr,
		Hosts:  githost.Options{GitHubURL: gh.URL},
		Logger: zerolog.Nop(),
	})
	return &testEnv{srv: srv, auth: mgr, backend: backend, cookie: rec.Result().Cookies()[0], release: release}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, signedIn bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signedIn {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, false)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var anon sessionResponse
	w := env.do(t, http.MethodGet, "/api/session", nil, false)
	if err := json.Unmarshal(w.Body.Bytes(), &anon); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if anon.Authenticated {
		t.Error("expected anonymous session")
	}

	var signed sessionResponse
	w = env.do(t, http.MethodGet, "/api/session", nil, true)
	if err := json.Unmarshal(w.Body.Bytes(), &signed); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if !signed.Authenticated || signed.User != "octo" || signed.Provider != model.ProviderGitHub {
		t.Errorf("unexpected session %+v", signed)
	}
	if strings.Contains(w.Body.String(), "tok") {
		t.Error("access token leaked into session response")
	}
}

func TestLoginUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/auth/gitlab/login", nil, false)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/auth/github/login", nil, false)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unconfigured app, got %d", w.Code)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/auth/logout", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/repos", nil, true)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", w.Code)
	}
}

func TestReposRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos", nil, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestReposEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Repos []model.Repo `json:"repos"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if len(resp.Repos) != 1 || resp.Repos[0].FullName != "octo/hello" {
		t.Errorf("unexpected repos %+v", resp.Repos)
	}
}

func TestBranchesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/branches", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp branchesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.DefaultBranch != "main" || len(resp.Branches) != 2 {
		t.Errorf("unexpected branches %+v", resp)
	}
}

func TestTreeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/tree", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp treeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Ref != "main" {
		t.Errorf("expected default branch main, got %q", resp.Ref)
	}
	files := filetree.Files(resp.Tree)
	if len(files) != 2 {
		t.Errorf("expected 2 files, got %v", files)
	}
	if len(resp.Reviewed) != 1 || resp.Reviewed[0] != "src/app.ts" {
		t.Errorf("expected src/app.ts reviewed, got %v", resp.Reviewed)
	}

	w = env.do(t, http.MethodGet, "/api/repos/octo/hello/tree?ref=dev", nil, true)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if got := len(filetree.Files(resp.Tree)); got != 3 {
		t.Errorf("expected 3 files on dev, got %d", got)
	}
}

func TestFileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/file?path=/src/app.ts", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp fileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Content != appSource || resp.Language != "typescript" || resp.Lines != 3 || resp.Ref != "main" {
		t.Errorf("unexpected file %+v", resp)
	}
}

func TestFileEndpointHTML(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/file?path=src/app.ts&ref=main&start=2&end=3&format=html", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), `id="L2"`) {
		t.Error("expected line anchors in html output")
	}
}

func TestFileEndpointErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		target string
		code   int
	}{
		{"/api/repos/octo/hello/file", http.StatusBadRequest},
		{"/api/repos/octo/hello/file?path=src/app.ts&start=zero", http.StatusBadRequest},
		{"/api/repos/octo/hello/file?path=src/app.ts&format=pdf", http.StatusBadRequest},
		{"/api/repos/octo/hello/file?path=missing.ts", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, tt.target, nil, true)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.target, tt.code, w.Code)
		}
	}
}

func TestReviewEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(reviewRequest{Path: "src/app.ts"})
	w := env.do(t, http.MethodPost, "/api/repos/octo/hello/review", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var d insight.Dashboard
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if d.Response.Project != "octo/hello@main" || d.Response.OverallFileScore != 71 {
		t.Errorf("unexpected response %+v", d.Response)
	}
	quality := d.Buckets[model.BucketQuality]
	if len(quality) != 1 || quality[0].Type != model.SeverityError {
		t.Errorf("expected one error in quality, got %+v", quality)
	}

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	if len(env.backend.reviews) != 1 {
		t.Fatalf("expected one review request, got %d", len(env.backend.reviews))
	}
	got := env.backend.reviews[0]
	if got["action"] != "file" || got["filename"] != "/src/app.ts" || got["ref"] != "main" || got["accessToken"] != "tok" {
		t.Errorf("unexpected review payload %v", got)
	}
}

func TestReviewEndpointValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, req := range []reviewRequest{
		{Action: "file"},
		{Action: "everything"},
	} {
		body, _ := json.Marshal(req)
		w := env.do(t, http.MethodPost, "/api/repos/octo/hello/review", body, true)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", req, w.Code)
		}
	}
}

func TestLastReviewEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/reviews/last?ref=dev&path=src/app.ts", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var d insight.Dashboard
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if d.Response.OverallFileScore != 64 {
		t.Errorf("expected score 64, got %d", d.Response.OverallFileScore)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !d.Response.CreatedAt.Equal(want) {
		t.Errorf("expected created %v, got %v", want, d.Response.CreatedAt)
	}
	if env.backend.projects[0] != "octo/hello@dev" {
		t.Errorf("unexpected project key %q", env.backend.projects[0])
	}

	w = env.do(t, http.MethodGet, "/api/repos/octo/hello/reviews/last?ref=dev&path=src/app.ts&format=html", nil, true)
	if !strings.Contains(w.Body.String(), "Missing doc &lt;comment&gt;") {
		t.Error("expected escaped issue in html dashboard")
	}
}

func TestLastReviewNotStored(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/reviews/last", nil, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp["notice"] == "" {
		t.Error("expected a notice for a missing review")
	}
}

func TestReviewedFilesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/repos/octo/hello/reviews/files", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Ref   string               `json:"ref"`
		Files []model.ReviewedFile `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Ref != "main" || len(resp.Files) != 1 || resp.Files[0].Filename != "src/app.ts" {
		t.Errorf("unexpected files %+v", resp)
	}
}

func multipartUpload(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestLocalReviewEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"main.go": "package main\n"})
	req := httptest.NewRequest(http.MethodPost, "/api/local/review", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ProjectID string             `json:"project_id"`
		Dashboard *insight.Dashboard `json:"dashboard"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.ProjectID == "" {
		t.Error("expected a project id")
	}
	if resp.Dashboard.Response.Project != "Local Files" || resp.Dashboard.Response.OverallFileScore != 88 {
		t.Errorf("unexpected response %+v", resp.Dashboard.Response)
	}

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	got := env.backend.uploads[0]
	if got["mode"] != "local" || got["owner"] != "guest" || got["localProjectId"] != resp.ProjectID {
		t.Errorf("unexpected upload payload %v", got)
	}
}

func TestLocalReviewRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"logo.png": "\x89PNG"})
	req := httptest.NewRequest(http.MethodPost, "/api/local/review", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if len(env.backend.uploads) != 0 {
		t.Error("backend should not be called for rejected uploads")
	}
}

func TestLocalReviewTooManyFiles(t *testing.T) {
	env := newTestEnv(t)

	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		files[n+".py"] = "print(1)\n"
	}
	body, ct := multipartUpload(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/local/review", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "maximum 5 files") {
		t.Errorf("expected file count message, got %s", w.Body.String())
	}
}

func TestLocalReviewFileTooLarge(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"big.go": strings.Repeat("x", 3<<20)})
	req := httptest.NewRequest(http.MethodPost, "/api/local/review", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "file too large: big.go") {
		t.Errorf("expected file size message, got %s", w.Body.String())
	}
	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	if len(env.backend.uploads) != 0 {
		t.Error("backend should not be called for rejected uploads")
	}
}

func TestLocalReviewMalformedUpload(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/local/review", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid upload") {
		t.Errorf("expected invalid upload message, got %s", w.Body.String())
	}
}

// --- WebSocket ---

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	header := http.Header{"Cookie": {env.cookie.Name + "=" + env.cookie.Value}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("ws write %s: %v", msgType, err)
	}
}

func readWS(t *testing.T, conn *websocket.Conn, want string, out any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read %s: %v", want, err)
	}
	if msg.Type != want {
		t.Fatalf("expected %q message, got %q: %s", want, msg.Type, msg.Data)
	}
	if out != nil {
		if err := json.Unmarshal(msg.Data, out); err != nil {
			t.Fatalf("unmarshal %s: %v", want, err)
		}
	}
}

func TestWebSocketRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a session")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestWebSocketReviewSession(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	sendWS(t, conn, wsMsgOpenRepo, wsOpenRepo{Owner: "octo", Repo: "hello"})

	var branches wsBranchesResponse
	readWS(t, conn, wsMsgBranches, &branches)
	if branches.DefaultBranch != "main" || len(branches.Branches) != 2 {
		t.Errorf("unexpected branches %+v", branches)
	}

	var tree wsTreeResponse
	readWS(t, conn, wsMsgTree, &tree)
	if tree.Branch != "main" || len(filetree.Files(tree.Tree)) != 2 {
		t.Errorf("unexpected tree %+v", tree)
	}

	sendWS(t, conn, wsMsgSelectBranch, wsSelectBranch{Branch: "dev"})
	readWS(t, conn, wsMsgTree, &tree)
	if tree.Branch != "dev" || len(filetree.Files(tree.Tree)) != 3 {
		t.Errorf("unexpected dev tree %+v", tree)
	}

	sendWS(t, conn, wsMsgLoadFile, wsPath{Path: "src/app.ts"})
	var file wsFileResponse
	readWS(t, conn, wsMsgFile, &file)
	if file.Ref != "dev" || file.Lines != 3 || !strings.Contains(file.HTML, `id="L3"`) {
		t.Errorf("unexpected file %+v", file)
	}

	sendWS(t, conn, wsMsgJump, wsJump{
		Start:  2,
		End:    3,
		Layout: &jump.Layout{Lines: 3, LineHeight: 20, Padding: 10, Viewport: 40},
	})
	var hl wsHighlightResponse
	readWS(t, conn, wsMsgHighlight, &hl)
	if hl.Start != 2 || hl.End != 3 || len(hl.Overlays) != 2 {
		t.Fatalf("unexpected highlight %+v", hl)
	}
	if hl.Overlays[0].Top != 30 || !hl.Smooth {
		t.Errorf("unexpected overlay placement %+v", hl)
	}
	// Content is 80 tall in a 40 viewport; centering line 2 wants 20.
	if hl.ScrollTop != 20 {
		t.Errorf("expected scroll 20, got %v", hl.ScrollTop)
	}

	sendWS(t, conn, wsMsgReviewFile, wsPath{Path: "src/app.ts"})
	var dash wsDashboardResponse
	readWS(t, conn, wsMsgDashboard, &dash)
	if dash.Path != "src/app.ts" || dash.Dashboard.Response.Project != "octo/hello@dev" {
		t.Errorf("unexpected dashboard %+v", dash)
	}

	sendWS(t, conn, wsMsgLastReview, nil)
	var notice map[string]string
	readWS(t, conn, wsMsgNotice, &notice)
	if notice["message"] == "" {
		t.Error("expected a notice for the missing project review")
	}
}

// expectQuiet fails if a message of type unwanted arrives within d. The
// connection cannot be read again afterwards.
func expectQuiet(t *testing.T, conn *websocket.Conn, unwanted string, d time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == unwanted {
			t.Fatalf("unexpected %q message: %s", unwanted, msg.Data)
		}
	}
}

func TestWebSocketDropsReplacedRepository(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	sendWS(t, conn, wsMsgOpenRepo, wsOpenRepo{Owner: "octo", Repo: "hello"})
	readWS(t, conn, wsMsgBranches, nil)
	readWS(t, conn, wsMsgTree, nil)

	// The slow tree is held until the other repository is showing.
	sendWS(t, conn, wsMsgSelectBranch, wsSelectBranch{Branch: "slow"})
	sendWS(t, conn, wsMsgOpenRepo, wsOpenRepo{Owner: "octo", Repo: "other"})

	var branches wsBranchesResponse
	readWS(t, conn, wsMsgBranches, &branches)
	if branches.DefaultBranch != "trunk" {
		t.Errorf("unexpected branches %+v", branches)
	}
	var tree wsTreeResponse
	readWS(t, conn, wsMsgTree, &tree)
	if tree.Branch != "trunk" || len(filetree.Files(tree.Tree)) != 1 {
		t.Errorf("unexpected tree %+v", tree)
	}

	env.release()
	expectQuiet(t, conn, wsMsgTree, 300*time.Millisecond)
}

func TestWebSocketDropsSupersededFileLoad(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	sendWS(t, conn, wsMsgOpenRepo, wsOpenRepo{Owner: "octo", Repo: "hello"})
	readWS(t, conn, wsMsgBranches, nil)
	readWS(t, conn, wsMsgTree, nil)

	sendWS(t, conn, wsMsgLoadFile, wsPath{Path: "src/slow.ts"})
	sendWS(t, conn, wsMsgLoadFile, wsPath{Path: "src/app.ts"})

	var file wsFileResponse
	readWS(t, conn, wsMsgFile, &file)
	if file.Path != "src/app.ts" || file.Lines != 3 {
		t.Errorf("unexpected file %+v", file)
	}

	env.release()
	expectQuiet(t, conn, wsMsgFile, 300*time.Millisecond)
}

func TestWebSocketErrors(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	sendWS(t, conn, wsMsgLoadFile, wsPath{Path: "src/app.ts"})
	var errMsg map[string]string
	readWS(t, conn, wsMsgError, &errMsg)
	if errMsg["message"] != "no repository open" {
		t.Errorf("unexpected error %q", errMsg["message"])
	}

	sendWS(t, conn, "rewind", nil)
	readWS(t, conn, wsMsgError, &errMsg)
	if !strings.Contains(errMsg["message"], "unknown message type") {
		t.Errorf("unexpected error %q", errMsg["message"])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("ws write: %v", err)
	}
	readWS(t, conn, wsMsgError, &errMsg)
	if errMsg["message"] != "invalid message format" {
		t.Errorf("unexpected error %q", errMsg["message"])
	}
}
