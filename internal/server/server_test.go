package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-rag/internal/config"
	"health-rag/internal/embedding"
	"health-rag/internal/helper"
	"health-rag/internal/kb"
	"health-rag/internal/llmservice"
	"health-rag/internal/models"
	"health-rag/internal/rag"
	"health-rag/internal/retriever"
)

// keywordClient embeds text onto fixed keyword axes, so retrieval scores
// are fully predictable: matching keyword means similarity 1, no shared
// keyword means 0.
type keywordClient struct{}

var keywordAxes = []string{"diabetes", "hypertension", "france"}

func keywordVec(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(keywordAxes))
	for i, keyword := range keywordAxes {
		if strings.Contains(lower, keyword) {
			v[i] = 1
		}
	}
	return v
}

func (keywordClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = keywordVec(text)
	}
	return out, nil
}

func (keywordClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return keywordVec(text), nil
}

type fakeGenerator struct {
	result llmservice.Result
	calls  int
}

func (f *fakeGenerator) Generate(context.Context, string, llmservice.Options) llmservice.Result {
	f.calls++
	return f.result
}

func (f *fakeGenerator) Model() string { return "llama3" }

type fakeBackend struct{ up bool }

func (f *fakeBackend) Available(context.Context) bool { return f.up }
func (f *fakeBackend) Model() string                  { return "llama3" }

type fixture struct {
	srv     *Server
	store   *kb.Store
	cfg     *config.Config
	gen     *fakeGenerator
	backend *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, AdminToken: "secret"},
		Storage: config.StorageConfig{
			UploadDir:     filepath.Join(dir, "uploads"),
			KBFile:        filepath.Join(dir, "kb.json"),
			UploadLogFile: filepath.Join(dir, "uploads.json"),
		},
		Document: config.DocumentConfig{
			ChunkSize:         50,
			MinChunkWords:     2,
			MaxFileSizeMB:     50,
			AllowedExtensions: []string{"pdf", "txt"},
		},
		RAG:      config.RAGConfig{TopK: 5, MinScore: 0.25, BatchSize: 100},
		EmbedLLM: config.LLMConfig{BaseURL: "http://localhost:11434", Model: "nomic-embed-text"},
	}
	require.NoError(t, helper.CreateFolder(cfg.Storage.UploadDir))

	emb := embedding.New(keywordClient{}, cfg.RAG.BatchSize)
	store := kb.NewStore(cfg.Storage.KBFile, emb)
	gen := &fakeGenerator{result: llmservice.Result{Kind: llmservice.KindSuccess, Text: "Diabetes is a chronic condition [Context 1]."}}
	backend := &fakeBackend{up: true}
	builder := rag.NewBuilder(gen, llmservice.Options{})

	return &fixture{
		srv:     New(cfg, store, retriever.New(emb), builder, backend),
		store:   store,
		cfg:     cfg,
		gen:     gen,
		backend: backend,
	}
}

func (f *fixture) seedDocument(t *testing.T, source string, texts ...string) {
	t.Helper()
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{Text: text, Source: source, Page: i + 1}
	}
	_, _, err := f.store.AddDocument(context.Background(), chunks)
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return rec.Code, parsed
}

func (f *fixture) query(t *testing.T, question string) (int, map[string]any) {
	body, err := json.Marshal(map[string]string{"question": question})
	require.NoError(t, err)
	return f.do(t, http.MethodPost, "/chat/query", body, nil)
}

func adminHeader() map[string]string {
	return map[string]string{"X-Admin-Token": "secret"}
}

func TestChatQuery(t *testing.T) {
	t.Run("Should reject a missing question", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.do(t, http.MethodPost, "/chat/query", []byte(`{}`), nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "No question provided", resp["message"])
	})

	t.Run("Should reject a blank question", func(t *testing.T) {
		f := newFixture(t)
		code, _ := f.query(t, "   ")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("Should answer from the template when the knowledge base is empty", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.query(t, "What is diabetes?")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.EmptyKnowledgeBaseMessage, resp["answer"])
		assert.Empty(t, resp["sources"])
		assert.Zero(t, f.gen.calls)
	})

	t.Run("Should answer a grounded question with sources and confidence", func(t *testing.T) {
		f := newFixture(t)
		f.seedDocument(t, "d.pdf", "filler text one", "filler text two", "Diabetes is a chronic condition affecting blood sugar.")

		code, resp := f.query(t, "What is diabetes?")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, 1, f.gen.calls)
		assert.Contains(t, resp["answer"], "Diabetes is a chronic condition")
		assert.Contains(t, resp["answer"], "Medical Disclaimer")
		assert.Equal(t, []any{"d.pdf (Page 3)"}, resp["sources"])
		assert.InDelta(t, 1.0, resp["confidence"].(float64), 1e-9)
		assert.Equal(t, "llama3", resp["model"])
	})

	t.Run("Should return the no-context template without calling the backend", func(t *testing.T) {
		f := newFixture(t)
		f.backend.up = false // must not matter on this path
		f.seedDocument(t, "d.pdf", "Diabetes is a chronic condition.")

		code, resp := f.query(t, "What is the capital of France's neighbor?")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, resp["answer"], "I don't have information about")
		assert.Zero(t, f.gen.calls)
		assert.Empty(t, resp["sources"])
	})

	t.Run("Should report 503 when grounding exists but the backend is down", func(t *testing.T) {
		f := newFixture(t)
		f.backend.up = false
		f.seedDocument(t, "d.pdf", "Diabetes is a chronic condition.")

		code, resp := f.query(t, "What is diabetes?")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, resp["message"], "AI service unavailable")
		assert.Zero(t, f.gen.calls)
	})

	t.Run("Should map generation timeouts to 504", func(t *testing.T) {
		f := newFixture(t)
		f.gen.result = llmservice.Result{Kind: llmservice.KindTimeout, Err: context.DeadlineExceeded}
		f.seedDocument(t, "d.pdf", "Diabetes is a chronic condition.")

		code, resp := f.query(t, "What is diabetes?")
		assert.Equal(t, http.StatusGatewayTimeout, code)
		assert.Contains(t, resp["message"], "took too long")
	})

	t.Run("Should map malformed responses to 500", func(t *testing.T) {
		f := newFixture(t)
		f.gen.result = llmservice.Result{Kind: llmservice.KindMalformed, Err: assert.AnError}
		f.seedDocument(t, "d.pdf", "Diabetes is a chronic condition.")

		code, _ := f.query(t, "What is diabetes?")
		assert.Equal(t, http.StatusInternalServerError, code)
	})
}

func TestAdminAuth(t *testing.T) {
	t.Run("Should accept the configured token", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.do(t, http.MethodPost, "/admin/auth", []byte(`{"token":"secret"}`), nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, resp["success"])
	})

	t.Run("Should reject a wrong token", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.do(t, http.MethodPost, "/admin/auth", []byte(`{"token":"wrong"}`), nil)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "Invalid token", resp["message"])
	})

	t.Run("Should guard admin routes with the token header", func(t *testing.T) {
		f := newFixture(t)
		code, _ := f.do(t, http.MethodGet, "/admin/documents", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code)

		code, _ = f.do(t, http.MethodGet, "/admin/documents", nil, adminHeader())
		assert.Equal(t, http.StatusOK, code)
	})
}

func uploadRequest(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, filename, content string) (int, map[string]any) {
	t.Helper()
	buf, contentType := uploadRequest(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/admin/upload", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Admin-Token", "secret")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return rec.Code, parsed
}

func TestUploadDocument(t *testing.T) {
	t.Run("Should require a file", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.do(t, http.MethodPost, "/admin/upload", nil, adminHeader())
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "No file provided", resp["message"])
	})

	t.Run("Should reject disallowed extensions", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.upload(t, "malware.exe", "nope")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "File type not allowed", resp["message"])
	})

	t.Run("Should ingest a text document end to end", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.upload(t, "notes.txt", "Diabetes is a chronic condition affecting blood sugar regulation in the body.")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(1), resp["chunks_added"])
		assert.Equal(t, float64(1), resp["total_chunks"])
		assert.Equal(t, 1, f.store.CountBySource("notes.txt"))

		// audit trail
		data, err := os.ReadFile(f.cfg.Storage.UploadLogFile)
		require.NoError(t, err)
		var records []models.UploadRecord
		require.NoError(t, json.Unmarshal(data, &records))
		require.Len(t, records, 1)
		assert.Equal(t, "notes.txt", records[0].Filename)
		assert.Equal(t, "success", records[0].Status)
	})

	t.Run("Should reject a duplicate filename", func(t *testing.T) {
		f := newFixture(t)
		code, _ := f.upload(t, "notes.txt", "Diabetes is a chronic condition affecting blood sugar.")
		require.Equal(t, http.StatusOK, code)

		code, resp := f.upload(t, "notes.txt", "Diabetes again.")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "File already exists", resp["message"])
	})

	t.Run("Should discard uploads with no extractable text", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.upload(t, "blank.txt", "   \n  ")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "No text extracted from document", resp["message"])

		_, err := os.Stat(filepath.Join(f.cfg.Storage.UploadDir, "blank.txt"))
		assert.True(t, os.IsNotExist(err))
		assert.Zero(t, f.store.Len())
	})
}

func TestListAndDeleteDocuments(t *testing.T) {
	t.Run("Should list uploaded documents with chunk counts", func(t *testing.T) {
		f := newFixture(t)
		code, _ := f.upload(t, "notes.txt", "Diabetes is a chronic condition affecting blood sugar.")
		require.Equal(t, http.StatusOK, code)

		code, resp := f.do(t, http.MethodGet, "/admin/documents", nil, adminHeader())
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(1), resp["total_documents"])
		assert.Equal(t, float64(1), resp["total_chunks"])
	})

	t.Run("Should 404 on deleting an unknown document", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.do(t, http.MethodDelete, "/admin/documents/gone.pdf", nil, adminHeader())
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "File not found", resp["message"])
	})

	t.Run("Should fall back to the empty answer after the last document is deleted", func(t *testing.T) {
		f := newFixture(t)
		code, _ := f.upload(t, "d.txt", "Diabetes is a chronic condition affecting blood sugar.")
		require.Equal(t, http.StatusOK, code)

		code, resp := f.do(t, http.MethodDelete, "/admin/documents/d.txt", nil, adminHeader())
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(1), resp["chunks_removed"])
		assert.Equal(t, float64(0), resp["total_chunks"])
		assert.False(t, f.store.Snapshot().Index.Present())

		code, resp = f.query(t, "What is diabetes?")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.EmptyKnowledgeBaseMessage, resp["answer"])
		assert.Zero(t, f.gen.calls)
	})
}

func TestStatsAndHealth(t *testing.T) {
	t.Run("Should expose backend status and corpus size", func(t *testing.T) {
		f := newFixture(t)
		f.seedDocument(t, "d.pdf", "Diabetes is a chronic condition.")

		code, resp := f.do(t, http.MethodGet, "/admin/stats", nil, adminHeader())
		assert.Equal(t, http.StatusOK, code)
		stats := resp["stats"].(map[string]any)
		assert.Equal(t, "Connected", stats["ollama_status"])
		assert.Equal(t, "llama3", stats["ollama_model"])
		assert.Equal(t, float64(1), stats["total_chunks"])
	})

	t.Run("Should report degraded while the knowledge base is empty", func(t *testing.T) {
		f := newFixture(t)
		code, resp := f.do(t, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "degraded", resp["status"])
		assert.Equal(t, "empty", resp["knowledge_base"])
	})

	t.Run("Should report healthy with chunks and a live backend", func(t *testing.T) {
		f := newFixture(t)
		f.seedDocument(t, "d.pdf", "Diabetes is a chronic condition.")
		code, resp := f.do(t, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", resp["status"])
		assert.Equal(t, "ok", resp["ollama"])
		assert.Equal(t, float64(1), resp["chunks"])
	})

	t.Run("Should report a dead backend", func(t *testing.T) {
		f := newFixture(t)
		f.backend.up = false
		_, resp := f.do(t, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, "error", resp["ollama"])
		assert.Equal(t, "degraded", resp["status"])
	})
}
