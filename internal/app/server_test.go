package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"codepad/apps/editor/internal/config"
)

type fakeUpstream struct {
	mu     sync.Mutex
	calls  int
	bodies []map[string]interface{}
	heads  []http.Header
	status int
	reply  string
	delay  time.Duration
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.calls++
	f.bodies = append(f.bodies, body)
	f.heads = append(f.heads, r.Header.Clone())
	status, reply, delay := f.status, f.reply, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply))
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUpstream) call(i int) (map[string]interface{}, http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[i], f.heads[i]
}

func newTestSettings(t *testing.T) config.Settings {
	t.Helper()
	t.Setenv(apiKeyEnv, "")
	cfg := config.Default()
	cfg.Port = "7783"
	cfg.DataDir = t.TempDir()
	cfg.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	cfg.Housekeeping = ""
	cfg.Interpreter = "sh"
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, newTestSettings(t))
}

func newTestServerWith(t *testing.T, cfg config.Settings) *Server {
	t.Helper()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["ok"] != true {
		t.Fatalf("expected ok=true: %s", w.Body.String())
	}
	if _, ok := body["config_warning"]; ok {
		t.Fatalf("fresh config should carry no warning: %s", w.Body.String())
	}
}

func TestHealthzCountsSessionsAndWatchedDirectories(t *testing.T) {
	cfg := newTestSettings(t)
	srv := newTestServerWith(t, cfg)
	if srv.ConfigPath() != cfg.ConfigPath() {
		t.Fatalf("unexpected config path: %q", srv.ConfigPath())
	}
	h := srv.Handler()
	first := t.TempDir()
	second := t.TempDir()

	doJSON(t, h, http.MethodPost, "/api/directory/open", map[string]string{"path": first}, SessionHeader, "alice")
	doJSON(t, h, http.MethodPost, "/api/directory/open", map[string]string{"path": second}, SessionHeader, "alice")

	body := decodeBody(t, doJSON(t, h, http.MethodGet, "/healthz", nil))
	if body["sessions"] != float64(1) || body["active_chats"] != float64(0) {
		t.Fatalf("unexpected counters: %#v", body)
	}
	if srv.watcher != nil && body["watched_directories"] != float64(1) {
		t.Fatalf("reopening must drop the old watch: %#v", body)
	}
}

func TestHealthzReportsConfigWarning(t *testing.T) {
	cfg := newTestSettings(t)
	if err := os.WriteFile(cfg.ConfigPath(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newTestServerWith(t, cfg)
	body := decodeBody(t, doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil))
	warning, _ := body["config_warning"].(string)
	if !strings.Contains(warning, "using defaults") {
		t.Fatalf("expected fallback warning, got=%q", warning)
	}
}

func TestConfigGetAndMerge(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/config", `{"selected_model":"m","theme":"dark"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("save status=%d body=%s", w.Code, w.Body.String())
	}

	got := decodeBody(t, doJSON(t, h, http.MethodGet, "/api/config", nil))
	if got["selected_model"] != "m" || got["theme"] != "dark" {
		t.Fatalf("unexpected config: %#v", got)
	}
	if _, ok := got["models"].([]interface{}); !ok {
		t.Fatalf("models should survive the merge: %#v", got)
	}

	reloaded := newTestServerWith(t, srv.cfg)
	again := decodeBody(t, doJSON(t, reloaded.Handler(), http.MethodGet, "/api/config", nil))
	if again["selected_model"] != "m" || again["theme"] != "dark" {
		t.Fatalf("merge should persist: %#v", again)
	}
}

func TestConfigMergeRejectsNonObject(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/config", `["x"]`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["code"] != "invalid_config" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestFileLifecycle(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	dir := t.TempDir()

	w := doJSON(t, h, http.MethodPost, "/api/directory/open", map[string]string{"path": dir})
	if w.Code != http.StatusOK {
		t.Fatalf("open dir status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/file/new", map[string]string{"filename": "main.py"})
	if w.Code != http.StatusOK {
		t.Fatalf("new status=%d body=%s", w.Code, w.Body.String())
	}
	path, _ := decodeBody(t, w)["path"].(string)
	if path != filepath.Join(dir, "main.py") {
		t.Fatalf("unexpected new path: %q", path)
	}

	w = doJSON(t, h, http.MethodPost, "/api/file/save", map[string]string{"path": path, "content": "print('hi')\n"})
	if w.Code != http.StatusOK || decodeBody(t, w)["message"] != "File saved" {
		t.Fatalf("save status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/file/open", map[string]string{"path": path})
	opened := decodeBody(t, w)
	if w.Code != http.StatusOK || opened["content"] != "print('hi')\n" || opened["filename"] != "main.py" {
		t.Fatalf("open status=%d body=%s", w.Code, w.Body.String())
	}
	if srv.store.Snapshot().LastFile != path {
		t.Fatalf("last_file should follow the opened file")
	}

	listing := decodeBody(t, doJSON(t, h, http.MethodPost, "/api/file/list", map[string]string{}))
	items, _ := listing["items"].([]interface{})
	if len(items) != 1 || listing["current_path"] != dir {
		t.Fatalf("unexpected listing: %#v", listing)
	}
	item := items[0].(map[string]interface{})
	if item["name"] != "main.py" || item["icon"] != "🐍" || item["is_dir"] != false {
		t.Fatalf("unexpected item: %#v", item)
	}

	w = doJSON(t, h, http.MethodPost, "/api/file/rename", map[string]string{"old_path": path, "new_name": "app.py"})
	renamed, _ := decodeBody(t, w)["new_path"].(string)
	if w.Code != http.StatusOK || renamed != filepath.Join(dir, "app.py") {
		t.Fatalf("rename status=%d body=%s", w.Code, w.Body.String())
	}
	state := decodeBody(t, doJSON(t, h, http.MethodGet, "/api/workspace/state", nil))
	if state["current_file"] != renamed {
		t.Fatalf("session should follow the rename: %#v", state)
	}

	w = doJSON(t, h, http.MethodPost, "/api/file/open", map[string]string{"path": path})
	if w.Code != http.StatusInternalServerError || decodeBody(t, w)["code"] != "io_error" {
		t.Fatalf("old path should be gone, status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/file/delete", map[string]string{"path": renamed})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, http.MethodPost, "/api/file/delete", map[string]string{"path": renamed})
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["code"] != "invalid_path" {
		t.Fatalf("second delete status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestFileErrorsMapToStatus(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	missing := filepath.Join(t.TempDir(), "missing")

	cases := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{"list without path", "/api/file/list", map[string]string{}, http.StatusBadRequest, "missing_argument", "Path is required"},
		{"list missing dir", "/api/file/list", map[string]string{"path": missing}, http.StatusBadRequest, "invalid_path", "Invalid path"},
		{"open without path", "/api/file/open", map[string]string{}, http.StatusBadRequest, "missing_argument", ""},
		{"save without path", "/api/file/save", map[string]string{"content": "x"}, http.StatusBadRequest, "missing_argument", "No file path specified"},
		{"new without name", "/api/file/new", map[string]string{"dirpath": missing}, http.StatusBadRequest, "missing_argument", ""},
		{"open missing dir", "/api/directory/open", map[string]string{"path": missing}, http.StatusBadRequest, "invalid_path", "Invalid directory"},
		{"invalid json", "/api/file/open", `{"path":`, http.StatusBadRequest, "invalid_json", ""},
	}
	for _, tc := range cases {
		w := doJSON(t, h, http.MethodPost, tc.path, tc.body)
		if w.Code != tc.wantStatus {
			t.Fatalf("%s: status=%d body=%s", tc.name, w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		if body["code"] != tc.wantCode {
			t.Fatalf("%s: code=%v", tc.name, body["code"])
		}
		if tc.wantError != "" && body["error"] != tc.wantError {
			t.Fatalf("%s: error=%v", tc.name, body["error"])
		}
	}
}

func TestSessionsAreIsolatedByHeader(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	a, b := t.TempDir(), t.TempDir()

	doJSON(t, h, http.MethodPost, "/api/directory/open", map[string]string{"path": a}, SessionHeader, "alice")
	doJSON(t, h, http.MethodPost, "/api/directory/open", map[string]string{"path": b}, SessionHeader, "bob")

	alice := decodeBody(t, doJSON(t, h, http.MethodGet, "/api/workspace/state", nil, SessionHeader, "alice"))
	bob := decodeBody(t, doJSON(t, h, http.MethodGet, "/api/workspace/state", nil, SessionHeader, "bob"))
	if alice["current_directory"] != a || bob["current_directory"] != b {
		t.Fatalf("sessions leaked: alice=%#v bob=%#v", alice, bob)
	}
	def := decodeBody(t, doJSON(t, h, http.MethodGet, "/api/workspace/state", nil))
	if def["current_directory"] != "" {
		t.Fatalf("default session should be untouched: %#v", def)
	}
}

func TestMarkModified(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	state := decodeBody(t, doJSON(t, h, http.MethodPost, "/api/file/modified", map[string]bool{"modified": true}))
	if state["file_modified"] != true {
		t.Fatalf("unexpected state: %#v", state)
	}
}

func TestSaveTempWritesIntoScratchDir(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/file/save_temp", map[string]string{"filename": "../evil.py", "content": "print(1)"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	path, _ := decodeBody(t, w)["path"].(string)
	if path != filepath.Join(srv.cfg.ScratchDir, "evil.py") {
		t.Fatalf("unexpected scratch path: %q", path)
	}

	w = doJSON(t, srv.Handler(), http.MethodPost, "/api/file/save_temp", map[string]string{"content": "x"})
	path, _ = decodeBody(t, w)["path"].(string)
	if filepath.Base(path) != "temp_script.py" {
		t.Fatalf("unexpected default name: %q", path)
	}
}

func TestChatProxiesToUpstream(t *testing.T) {
	upstream := &fakeUpstream{reply: "{\"model\":\"m1\",\"choices\":[{\"message\":{\"content\":\"Try:\\n\\n```python\\nprint(2)\\n```\\n\"}}]}"}
	ts := httptest.NewServer(upstream)
	defer ts.Close()

	cfg := newTestSettings(t)
	cfg.UpstreamBaseURL = ts.URL
	srv := newTestServerWith(t, cfg)
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/api/config", map[string]string{"api_key": "sk-test", "selected_model": "m1"})

	w := doJSON(t, h, http.MethodPost, "/api/ai/chat", map[string]string{"message": "fix this", "code": "print(1)"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || !strings.Contains(body["response"].(string), "print(2)") {
		t.Fatalf("unexpected reply: %#v", body)
	}
	blocks, _ := body["code_blocks"].([]interface{})
	if len(blocks) != 1 || blocks[0].(map[string]interface{})["language"] != "python" {
		t.Fatalf("unexpected code blocks: %#v", body["code_blocks"])
	}

	if upstream.callCount() != 1 {
		t.Fatalf("expected one upstream call, got=%d", upstream.callCount())
	}
	sent, head := upstream.call(0)
	if head.Get("Authorization") != "Bearer sk-test" || head.Get("HTTP-Referer") != "http://localhost:7783" {
		t.Fatalf("unexpected headers: %#v", head)
	}
	messages := sent["messages"].([]interface{})
	user := messages[1].(map[string]interface{})
	if user["content"] != "fix this\n\nCode:\nprint(1)" {
		t.Fatalf("unexpected prompt: %#v", user["content"])
	}
}

func TestChatUsesEnvKeyFallback(t *testing.T) {
	upstream := &fakeUpstream{reply: `{"choices":[{"message":{"content":"ok"}}]}`}
	ts := httptest.NewServer(upstream)
	defer ts.Close()

	cfg := newTestSettings(t)
	cfg.UpstreamBaseURL = ts.URL
	t.Setenv(apiKeyEnv, "sk-env")
	srv := newTestServerWith(t, cfg)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/ai/chat", map[string]string{"message": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	_, head := upstream.call(0)
	if got := head.Get("Authorization"); got != "Bearer sk-env" {
		t.Fatalf("unexpected auth header: %q", got)
	}
}

func TestChatErrors(t *testing.T) {
	upstream := &fakeUpstream{status: http.StatusTooManyRequests, reply: `{"error":{"message":"Rate limited"}}`}
	ts := httptest.NewServer(upstream)
	defer ts.Close()

	cfg := newTestSettings(t)
	cfg.UpstreamBaseURL = ts.URL
	srv := newTestServerWith(t, cfg)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/ai/chat", map[string]string{"message": "", "code": "print(1)"})
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["error"] != "Message required" {
		t.Fatalf("empty message status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/ai/chat", map[string]string{"message": "hi"})
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["code"] != "provider_not_configured" {
		t.Fatalf("no key status=%d body=%s", w.Code, w.Body.String())
	}
	if upstream.callCount() != 0 {
		t.Fatalf("no upstream call expected, got=%d", upstream.callCount())
	}

	doJSON(t, h, http.MethodPost, "/api/config", map[string]string{"api_key": "sk-test"})
	w = doJSON(t, h, http.MethodPost, "/api/ai/chat", map[string]string{"message": "hi"})
	body := decodeBody(t, w)
	if w.Code != http.StatusTooManyRequests || body["error"] != "Rate limited" || body["code"] != "upstream_error" {
		t.Fatalf("upstream status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestChatCancelByRequestID(t *testing.T) {
	upstream := &fakeUpstream{delay: 10 * time.Second, reply: `{"choices":[{"message":{"content":"late"}}]}`}
	ts := httptest.NewServer(upstream)
	defer ts.Close()

	cfg := newTestSettings(t)
	cfg.UpstreamBaseURL = ts.URL
	srv := newTestServerWith(t, cfg)
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/api/config", map[string]string{"api_key": "sk-test"})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doJSON(t, h, http.MethodPost, "/api/ai/chat", map[string]string{"message": "slow", "request_id": "req-1"})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for srv.inflight.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	w := doJSON(t, h, http.MethodPost, "/api/ai/cancel", map[string]string{"request_id": "req-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status=%d body=%s", w.Code, w.Body.String())
	}

	select {
	case res := <-done:
		if res.Code != statusClientClosedRequest || decodeBody(t, res)["code"] != "cancelled" {
			t.Fatalf("cancelled chat status=%d body=%s", res.Code, res.Body.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("chat did not return after cancel")
	}

	w = doJSON(t, h, http.MethodPost, "/api/ai/cancel", map[string]string{"request_id": "req-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("second cancel status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRunCodeLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts require a unix sh")
	}
	cfg := newTestSettings(t)
	cfg.CaptureOutput = true
	srv := newTestServerWith(t, cfg)
	h := srv.Handler()
	script := filepath.Join(t.TempDir(), "hello.py")
	if err := os.WriteFile(script, []byte("echo from-script\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doJSON(t, h, http.MethodPost, "/api/file/open", map[string]string{"path": script})

	w := doJSON(t, h, http.MethodPost, "/api/code/run", map[string]string{})
	body := decodeBody(t, w)
	if w.Code != http.StatusOK || body["message"] != "Code started" {
		t.Fatalf("run status=%d body=%s", w.Code, w.Body.String())
	}
	runID, _ := body["run_id"].(string)

	var snap map[string]interface{}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap = decodeBody(t, doJSON(t, h, http.MethodGet, "/api/code/runs/"+runID, nil))
		if snap["state"] != "running" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap["state"] != "exited" || snap["exit_code"] != float64(0) {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
	if !strings.Contains(snap["output"].(string), "from-script") {
		t.Fatalf("output not captured: %#v", snap["output"])
	}

	list := decodeBody(t, doJSON(t, h, http.MethodGet, "/api/code/runs", nil))
	if runs, _ := list["runs"].([]interface{}); len(runs) != 1 {
		t.Fatalf("unexpected runs: %#v", list)
	}

	w = doJSON(t, h, http.MethodPost, "/api/code/runs/"+runID+"/kill", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("kill after exit status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRunCodeErrors(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/code/run", map[string]string{"path": filepath.Join(t.TempDir(), "nope.py")})
	body := decodeBody(t, w)
	if w.Code != http.StatusBadRequest || body["error"] != "File not found" {
		t.Fatalf("missing file status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/api/code/runs/run-unknown", nil)
	if w.Code != http.StatusNotFound || decodeBody(t, w)["code"] != "run_not_found" {
		t.Fatalf("unknown run status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	doJSON(t, h, http.MethodGet, "/healthz", nil)
	w := doJSON(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "editor_http_requests_total") {
		t.Fatalf("metrics status=%d", w.Code)
	}
}

func TestStaticWebDir(t *testing.T) {
	cfg := newTestSettings(t)
	cfg.WebDir = t.TempDir()
	if err := os.WriteFile(filepath.Join(cfg.WebDir, "index.html"), []byte("<h1>editor</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newTestServerWith(t, cfg)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "editor") {
		t.Fatalf("index status=%d body=%s", w.Code, w.Body.String())
	}
}
