package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/repository/vectors"
	"github.com/parleyhq/parley/internal/transport/serp"
	"github.com/parleyhq/parley/internal/usecase/answer"
)

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestEmbedEndpoint(t *testing.T) {
	d := newTestDeps()
	d.embedder.embedFn = func(_ context.Context, text string) (domain.EmbeddingResult, error) {
		if text != "hello world" {
			t.Errorf("embedder received %q", text)
		}
		return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}, PromptTokens: 2, TotalTokens: 2}, nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/ai/embed", `{"text":"hello world"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Dimensions != 3 || len(resp.Embedding) != 3 {
		t.Errorf("response = %+v, want 3-dim embedding", resp)
	}
	if resp.TotalTokens != 2 {
		t.Errorf("TotalTokens = %d, want 2", resp.TotalTokens)
	}
}

func TestEmbedValidation(t *testing.T) {
	router := newTestRouter(newTestDeps())

	rec := doJSON(t, router, http.MethodPost, "/ai/embed", `{"text":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEmbedTooShortMapsTo400(t *testing.T) {
	d := newTestDeps()
	d.embedder.embedFn = func(context.Context, string) (domain.EmbeddingResult, error) {
		return domain.EmbeddingResult{}, domain.ErrTextTooShort
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/ai/embed", `{"text":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "text_too_short") {
		t.Errorf("body = %s, want text_too_short code", rec.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	d := newTestDeps()
	d.vectors.searchFn = func(_ context.Context, vector []float32, namespace string, topK int) ([]domain.Hit, error) {
		if namespace != "files-m1" || topK != 3 || len(vector) != 2 {
			t.Errorf("search got namespace=%q topK=%d dim=%d", namespace, topK, len(vector))
		}
		return []domain.Hit{{ID: "d1", Score: 0.9, SourceLabel: "budget.xlsx", Content: "q3 numbers"}}, nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/search",
		`{"queryEmbedding":[0.1,0.2],"namespace":"files-m1","topK":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].ID != "d1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSearchRequiresEmbedding(t *testing.T) {
	router := newTestRouter(newTestDeps())

	rec := doJSON(t, router, http.MethodPost, "/search", `{"namespace":"files-m1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpsertEndpoint(t *testing.T) {
	d := newTestDeps()
	var gotNamespace string
	var gotVecs []vectors.Vector
	d.vectors.upsertFn = func(_ context.Context, namespace string, vecs []vectors.Vector) (int, error) {
		gotNamespace = namespace
		gotVecs = vecs
		return len(vecs), nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/upsert", `{
		"namespace": "files-m1",
		"vectors": [
			{"id":"d1","values":[0.1,0.2],"content":"q3 numbers","source":"budget.xlsx","modified":"2025-05-20T10:00:00Z"},
			{"id":"d2","values":[0.3,0.4],"content":"hiring plan","source":"plan.docx"}
		]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if gotNamespace != "files-m1" || len(gotVecs) != 2 {
		t.Fatalf("upsert got namespace=%q vecs=%d", gotNamespace, len(gotVecs))
	}
	if gotVecs[0].Modified.IsZero() {
		t.Error("modified timestamp was not parsed")
	}
	if gotVecs[1].Modified.IsZero() == false {
		t.Error("missing modified should stay zero")
	}

	var resp upsertResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UpsertedCount != 2 {
		t.Errorf("UpsertedCount = %d, want 2", resp.UpsertedCount)
	}
}

func TestUpsertValidation(t *testing.T) {
	router := newTestRouter(newTestDeps())

	for _, body := range []string{
		`{"vectors":[{"id":"d1","values":[0.1]}]}`,
		`{"namespace":"files-m1","vectors":[]}`,
	} {
		rec := doJSON(t, router, http.MethodPost, "/upsert", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestDeleteEndpoint(t *testing.T) {
	d := newTestDeps()
	d.vectors.deleteFn = func(_ context.Context, namespace string, ids []string) (int, error) {
		if namespace != "web-m1" {
			t.Errorf("namespace = %q", namespace)
		}
		if len(ids) != 0 {
			t.Errorf("ids = %v, want empty for full namespace clear", ids)
		}
		return 7, nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/delete", `{"namespace":"web-m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp deleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeletedCount != 7 {
		t.Errorf("DeletedCount = %d, want 7", resp.DeletedCount)
	}
}

func TestAskEndpoint(t *testing.T) {
	d := newTestDeps()
	d.answers.askFn = func(_ context.Context, query domain.Query, sess domain.Session) (domain.Answer, error) {
		if query.Text != "what did we decide" || query.SessionID != "m1" {
			t.Errorf("query = %+v", query)
		}
		if sess.Transcript != "Alice: we decided to ship" {
			t.Errorf("session transcript = %q", sess.Transcript)
		}
		return domain.Answer{Text: "You decided to ship.", HasEvidence: true, Sources: []string{"Meeting Transcript"}}, nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/ask",
		`{"query":"what did we decide","sessionId":"m1","transcript":"Alice: we decided to ship"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp domain.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Text != "You decided to ship." || !resp.HasEvidence {
		t.Errorf("answer = %+v", resp)
	}
}

func TestAskSupersededMapsTo409(t *testing.T) {
	d := newTestDeps()
	d.answers.askFn = func(context.Context, domain.Query, domain.Session) (domain.Answer, error) {
		return domain.Answer{}, domain.ErrSuperseded
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/ask", `{"query":"anything","sessionId":"m1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAskStreamEmitsTokensAndDone(t *testing.T) {
	d := newTestDeps()
	hasEvidence := true
	d.answers.prepareFn = func(context.Context, domain.Query, domain.Session) (answer.Prepared, error) {
		return answer.Prepared{
			Messages:    []domain.Message{{Role: domain.RoleSystem, Content: "sys"}},
			Sources:     []string{"budget.xlsx"},
			HasEvidence: hasEvidence,
		}, nil
	}
	d.streamer.tokens = []string{"The ", "answer ", "is 42."}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/ai/stream", `{"query":"what is the answer","sessionId":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"sources":["budget.xlsx"]`) {
		t.Errorf("missing metadata event: %s", body)
	}
	if !strings.Contains(body, `{"token":"The "}`) || !strings.Contains(body, `{"token":"is 42."}`) {
		t.Errorf("missing token events: %s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream not terminated with [DONE]: %s", body)
	}

	// Full exchange recorded once streaming finished.
	if len(d.answers.recorded) != 1 {
		t.Fatalf("recorded %d exchanges, want 1", len(d.answers.recorded))
	}
	if d.answers.recorded[0][1] != "The answer is 42." {
		t.Errorf("recorded answer = %q", d.answers.recorded[0][1])
	}
}

func TestAskStreamGenerationFailure(t *testing.T) {
	d := newTestDeps()
	d.answers.prepareFn = func(context.Context, domain.Query, domain.Session) (answer.Prepared, error) {
		return answer.Prepared{Messages: []domain.Message{{Role: domain.RoleSystem, Content: "sys"}}}, nil
	}
	d.streamer.err = domain.ErrProviderError
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/ai/stream", `{"query":"anything","sessionId":"m1"}`)
	body := rec.Body.String()
	if !strings.Contains(body, `"error":"generation failed"`) {
		t.Errorf("missing error event: %s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Errorf("stream must still terminate: %s", body)
	}
	if len(d.answers.recorded) != 0 {
		t.Error("failed stream must not be recorded to history")
	}
}

func TestWebSearchEndpoint(t *testing.T) {
	d := newTestDeps()
	d.web.enabled = true
	d.web.searchFn = func(_ context.Context, query string) ([]serp.Result, error) {
		if query != "golang generics" {
			t.Errorf("query = %q", query)
		}
		return []serp.Result{{Title: "Go blog", Link: "https://go.dev/blog", Snippet: "generics"}}, nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodPost, "/serp/search", `{"query":"golang generics"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Go blog") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWebSearchDisabled(t *testing.T) {
	router := newTestRouter(newTestDeps())

	rec := doJSON(t, router, http.MethodPost, "/serp/search", `{"query":"anything"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	d := newTestDeps()
	d.memory.Append("m1", domain.Message{Role: domain.RoleUser, Content: "hello"})
	d.memory.Append("m1", domain.Message{Role: domain.RoleAssistant, Content: "hi"})
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodGet, "/memory/m1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp memoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "m1" || len(resp.Messages) != 2 {
		t.Fatalf("response = %+v", resp)
	}

	rec = doJSON(t, router, http.MethodDelete, "/memory/m1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if len(d.memory.History("m1")) != 0 {
		t.Error("history not cleared")
	}
}

func TestStatsEndpoints(t *testing.T) {
	d := newTestDeps()
	d.vectors.statsFn = func(context.Context) (vectors.Stats, error) {
		return vectors.Stats{TotalDocuments: 42}, nil
	}
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"totalDocuments":42`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	for _, path := range []string{"/cache/stats", "/queue/stats"} {
		rec := doJSON(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	d := newTestDeps()
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"provider":"healthy"`) {
		t.Errorf("body missing provider check: %s", rec.Body.String())
	}
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	d := newTestDeps()
	d.pinger.err = domain.ErrProviderError
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpointProviderDown(t *testing.T) {
	d := newTestDeps()
	d.provider.err = domain.ErrProviderError
	router := newTestRouter(d)

	rec := doJSON(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"provider":"unhealthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"database":"healthy"`) {
		t.Errorf("database check lost: %s", rec.Body.String())
	}
}
