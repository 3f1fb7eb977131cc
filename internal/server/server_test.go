package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acroflow/acroflow/internal/api/fillagent"
	"github.com/acroflow/acroflow/internal/domain"
	"github.com/acroflow/acroflow/internal/store"
)

type stubBackend struct {
	mu      sync.Mutex
	scripts [][]domain.StreamEvent
}

func (b *stubBackend) Analyze(ctx context.Context, filename string, pdf []byte) (*fillagent.AnalyzeResult, error) {
	return &fillagent.AnalyzeResult{
		Success:    true,
		Fields:     []domain.FormField{{FieldID: "page0_name", FieldType: "text", LabelContext: "Name"}},
		FieldCount: 1,
	}, nil
}

func (b *stubBackend) OpenFillStream(ctx context.Context, req *fillagent.FillStreamRequest) (<-chan fillagent.StreamResult, error) {
	b.mu.Lock()
	var script []domain.StreamEvent
	if len(b.scripts) > 0 {
		script = b.scripts[0]
		b.scripts = b.scripts[1:]
	}
	b.mu.Unlock()

	out := make(chan fillagent.StreamResult)
	go func() {
		defer close(out)
		for i := range script {
			out <- fillagent.StreamResult{Event: &script[i]}
		}
	}()
	return out, nil
}

func (b *stubBackend) OpenParseStream(ctx context.Context, files []fillagent.UploadFile, parseMode, userSessionID string) (<-chan fillagent.ParseStreamResult, error) {
	out := make(chan fillagent.ParseStreamResult)
	close(out)
	return out, nil
}

func (b *stubBackend) FetchSessionFilledPDF(ctx context.Context, userSessionID string) ([]byte, error) {
	return nil, nil
}

func (b *stubBackend) FetchSessionOriginalPDF(ctx context.Context, userSessionID string) ([]byte, error) {
	return nil, nil
}

func (b *stubBackend) FetchSessionContextFiles(ctx context.Context, userSessionID string) ([]fillagent.ContextFile, error) {
	return nil, nil
}

type stubSnapshots struct {
	mu sync.Mutex
	m  map[string]*store.Snapshot
}

func (s *stubSnapshots) Save(ctx context.Context, sessionID string, snap *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]*store.Snapshot)
	}
	s.m[sessionID] = snap
	return nil
}

func (s *stubSnapshots) Load(ctx context.Context, sessionID string) (*store.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.m[sessionID]
	return snap, ok
}

func (s *stubSnapshots) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
	return nil
}

func newTestServer(backend *stubBackend) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(0, logger, backend, &stubSnapshots{})
}

func do(t *testing.T, s *Server, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return resp
}

func multipartPDF(t *testing.T, field, filename string, data []byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return mw.FormDataContentType(), &buf
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubBackend{})
	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(&stubBackend{})
	rec := do(t, s, http.MethodPost, "/api/sessions", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	resp := decodeSession(t, rec)
	if !strings.HasPrefix(resp.SessionID, "sess_") {
		t.Errorf("session_id = %q, want sess_ prefix", resp.SessionID)
	}
	if resp.IsProcessing {
		t.Error("new session IsProcessing = true")
	}
}

func TestFullTurnFlow(t *testing.T) {
	filledHex := hex.EncodeToString([]byte("%PDF-filled"))
	backend := &stubBackend{
		scripts: [][]domain.StreamEvent{{
			{Type: domain.EventComplete, AppliedCount: 1,
				AppliedEdits: map[string]string{"page0_name": "John Doe"},
				SessionID:    "abc"},
			{Type: domain.EventPDFReady, PDFBytes: filledHex},
		}},
	}
	s := newTestServer(backend)

	created := decodeSession(t, do(t, s, http.MethodPost, "/api/sessions", "", nil))
	base := "/api/sessions/" + created.SessionID

	// No filled PDF before any turn ran.
	if rec := do(t, s, http.MethodGet, base+"/pdf", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /pdf status = %d, want 404 before a turn", rec.Code)
	}

	ct, body := multipartPDF(t, "file", "form.pdf", []byte("%PDF-original"))
	if rec := do(t, s, http.MethodPost, base+"/analyze", ct, body); rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", rec.Code, rec.Body)
	}

	turnBody := strings.NewReader(`{"instruction":"My name is John Doe"}`)
	rec := do(t, s, http.MethodPost, base+"/messages", "application/json", turnBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("turn status = %d: %s", rec.Code, rec.Body)
	}
	var msg domain.Message
	if err := json.NewDecoder(rec.Body).Decode(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Content != "Successfully filled 1 form fields." {
		t.Errorf("final message = %q", msg.Content)
	}

	got := decodeSession(t, do(t, s, http.MethodGet, base+"/", "", nil))
	if got.AgentSessionID != "abc" {
		t.Errorf("agent_session_id = %q, want %q", got.AgentSessionID, "abc")
	}
	if got.AppliedEdits["page0_name"] != "John Doe" {
		t.Errorf("applied_edits = %v", got.AppliedEdits)
	}
	if !got.HasFilledPDF {
		t.Error("has_filled_pdf = false after pdf_ready")
	}

	rec = do(t, s, http.MethodGet, base+"/pdf", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /pdf status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Body.String() != "%PDF-filled" {
		t.Errorf("filled PDF body = %q", rec.Body.String())
	}
}

func TestSubmitTurn_NoFieldsIsBadRequest(t *testing.T) {
	s := newTestServer(&stubBackend{})
	created := decodeSession(t, do(t, s, http.MethodPost, "/api/sessions", "", nil))

	turnBody := strings.NewReader(`{"instruction":"fill it"}`)
	rec := do(t, s, http.MethodPost, "/api/sessions/"+created.SessionID+"/messages",
		"application/json", turnBody)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 with no fields loaded", rec.Code)
	}
}

func TestSubmitTurn_MissingInstruction(t *testing.T) {
	s := newTestServer(&stubBackend{})
	created := decodeSession(t, do(t, s, http.MethodPost, "/api/sessions", "", nil))

	rec := do(t, s, http.MethodPost, "/api/sessions/"+created.SessionID+"/messages",
		"application/json", strings.NewReader(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetSession_UnknownIDStartsFresh(t *testing.T) {
	s := newTestServer(&stubBackend{})
	rec := do(t, s, http.MethodGet, "/api/sessions/sess_unknown/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeSession(t, rec)
	if resp.SessionID != "sess_unknown" {
		t.Errorf("session_id = %q, want the requested id adopted", resp.SessionID)
	}
}

func TestShutdown(t *testing.T) {
	s := newTestServer(&stubBackend{})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Start()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Start() returned %v, want http.ErrServerClosed", err)
	}
}

func TestResetSession(t *testing.T) {
	s := newTestServer(&stubBackend{})
	created := decodeSession(t, do(t, s, http.MethodPost, "/api/sessions", "", nil))

	rec := do(t, s, http.MethodDelete, "/api/sessions/"+created.SessionID+"/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	fresh := decodeSession(t, rec)
	if fresh.SessionID == created.SessionID {
		t.Error("reset kept the old session id")
	}
}
