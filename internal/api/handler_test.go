package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebase-qa/internal/chromemdb"
	"codebase-qa/internal/config"
	"codebase-qa/internal/llmservice"
	"codebase-qa/internal/models"
	"codebase-qa/internal/rag"
	"codebase-qa/internal/ragtest"
)

type testServer struct {
	handler   http.Handler
	uploadDir string
	gen       *ragtest.Generator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gen := &ragtest.Generator{Answer: llmservice.Answer{Text: "It retries three times."}}
	s := newTestServerWith(t, gen)
	s.gen = gen
	return s
}

func newTestServerWith(t *testing.T, gen llmservice.Generator) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.UploadDir = t.TempDir()

	store, err := chromemdb.NewVectorDBManager(chromemdb.Options{
		Collection: cfg.VectorDB.Collection,
		InMemory:   true,
		Dimension:  64,
	})
	require.NoError(t, err)
	svc := rag.NewRAG(store, ragtest.NewEmbedder(64), gen, cfg)

	return &testServer{
		handler:   NewHandler(svc, &cfg.Server).Routes(),
		uploadDir: cfg.Server.UploadDir,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-document", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(t, req)
}

func (s *testServer) ask(t *testing.T, query string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

func (s *testServer) list(t *testing.T) []string {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/list-documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	return resp.Documents
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func assertUploadDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "uploaded files must be removed after processing")
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Codebase QA Backend API!", decode[map[string]string](t, rec)["message"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.ChromaDBStatus)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAskRoundTrip(t *testing.T) {
	s := newTestServer(t)
	doc := "Failed jobs are retried three times by the scheduler before they are parked."

	rec := s.upload(t, "scheduler.md", "# Scheduler\n\n"+doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[statusResponse](t, rec)
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, "Processed 1 chunks from scheduler.md", status.Message)
	assertUploadDirEmpty(t, s.uploadDir)

	rec = s.ask(t, "How often are failed jobs retried by the scheduler?")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.QueryResponse](t, rec)
	assert.Equal(t, "It retries three times.", resp.Answer)
	assert.Equal(t, 1, resp.RetrievedChunkCount)
	require.Len(t, resp.Sources, 1)
	assert.Contains(t, resp.Sources[0].Content, doc)
	assert.Equal(t, "scheduler.md", resp.Sources[0].Source)
	assert.EqualValues(t, 0, resp.Sources[0].ChunkIndex)
	assert.Equal(t, "N/A", resp.Sources[0].Page)

	assert.Equal(t, []string{"scheduler.md"}, s.list(t))
}

func TestUploadUnsupported(t *testing.T) {
	s := newTestServer(t)

	rec := s.upload(t, "setup.exe", "MZ binary")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Detail, "unsupported file type")
	assertUploadDirEmpty(t, s.uploadDir)
	assert.Empty(t, s.list(t))
}

func TestUploadEmptyDocument(t *testing.T) {
	s := newTestServer(t)

	rec := s.upload(t, "empty.txt", "   ")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No content to process in empty.txt", decode[statusResponse](t, rec).Message)
	assertUploadDirEmpty(t, s.uploadDir)
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload-document", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file name provided.", decode[errorResponse](t, rec).Detail)
}

func TestAskValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.ask(t, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Query cannot be empty.", decode[errorResponse](t, rec).Detail)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/ask", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, s.gen.Prompts)
}

func TestAskGeneratorFailure(t *testing.T) {
	s := newTestServer(t)
	s.gen.Err = assert.AnError

	rec := s.ask(t, "anything")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Detail, "Failed to process query")
}

func TestAskDegraded(t *testing.T) {
	s := newTestServer(t)
	s.gen.Answer = llmservice.Answer{Text: models.NoResponsePlaceholder, Degraded: true}

	rec := s.ask(t, "anything")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[models.QueryResponse](t, rec)
	assert.True(t, resp.Degraded)
	assert.Equal(t, models.NoResponsePlaceholder, resp.Answer)
}

func TestClearThenListAndAsk(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.upload(t, "a.txt", "alpha content").Code)
	require.Equal(t, http.StatusOK, s.upload(t, "b.txt", "beta content").Code)
	assert.Equal(t, []string{"a.txt", "b.txt"}, s.list(t))

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/clear-documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "All documents cleared from codebase_docs.", decode[statusResponse](t, rec).Message)

	assert.Empty(t, s.list(t))
	rec = s.ask(t, "alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[models.QueryResponse](t, rec).RetrievedChunkCount)
}

func TestConcurrentAskOrderStable(t *testing.T) {
	s := newTestServer(t)
	for _, doc := range []struct{ name, body string }{
		{"one.txt", "queue worker retries"},
		{"two.txt", "queue worker backoff"},
		{"three.txt", "http server routes"},
		{"four.txt", "worker pool size"},
	} {
		require.Equal(t, http.StatusOK, s.upload(t, doc.name, doc.body).Code)
	}

	want := s.ask(t, "queue worker").Body.String()

	var wg sync.WaitGroup
	bodies := make([]string, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			payload := strings.NewReader(`{"query":"queue worker"}`)
			s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", payload))
			bodies[i] = rec.Body.String()
		}(i)
	}
	wg.Wait()
	for _, b := range bodies {
		assert.Equal(t, want, b)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := s.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = s.do(t, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAskSurvivesClientDisconnect(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Finished anyway."}]}}]}`))
	}))
	defer llm.Close()

	s := newTestServerWith(t, llmservice.NewGeminiClient(&config.LLMConfig{
		Provider:       config.ProviderGemini,
		BaseURL:        llm.URL,
		Key:            "k",
		TimeoutSeconds: 5,
	}))
	require.Equal(t, http.StatusOK, s.upload(t, "jobs.txt", "jobs are retried").Code)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	payload := []byte(`{"query":"are jobs retried?"}`)
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(payload)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Finished anyway.", decode[models.QueryResponse](t, rec).Answer)
}

func TestConcurrentUploadAndClear(t *testing.T) {
	s := newTestServer(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			rec := s.upload(t, fmt.Sprintf("doc%d.txt", i), "workers share one collection")
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}()
		go func() {
			defer wg.Done()
			rec := s.do(t, httptest.NewRequest(http.MethodPost, "/clear-documents", nil))
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}()
		go func() {
			defer wg.Done()
			rec := s.do(t, httptest.NewRequest(http.MethodGet, "/list-documents", nil))
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}()
	}
	wg.Wait()

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "ok", decode[healthResponse](t, rec).ChromaDBStatus)
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/list-documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assertUploadDirEmpty(t, s.uploadDir)
}
