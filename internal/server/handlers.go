package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"health-rag/internal/chunker"
	"health-rag/internal/helper"
	"health-rag/internal/models"
	"health-rag/internal/parser"
	"health-rag/internal/rag"
)

type queryRequest struct {
	Question string `json:"question"`
}

type authRequest struct {
	Token string `json:"token"`
}

// chatQuery answers one question from the knowledge base. The snapshot is
// taken once and used for the whole request, so a concurrent admin mutation
// cannot pull the index out from under the retrieval.
func (s *Server) chatQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No question provided"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No question provided"})
		return
	}
	log.Info().Msgf("query: %s", question)

	snap := s.kb.Snapshot()
	if len(snap.Chunks) == 0 || !snap.Index.Present() {
		answer := s.builder.EmptyKnowledgeBase()
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"answer":     answer.Answer,
			"sources":    answer.Sources,
			"confidence": answer.Confidence,
		})
		return
	}

	retrieved, err := s.retriever.Retrieve(c.Request.Context(), question, snap.Chunks, snap.Index,
		s.cfg.RAG.TopK, s.cfg.RAG.MinScore)
	if err != nil {
		log.Error().Err(err).Msg("retrieval failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "An error occurred processing your question",
		})
		return
	}

	if len(retrieved) == 0 {
		answer := s.builder.Answer(c.Request.Context(), question, nil)
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"answer":     answer.Answer,
			"sources":    answer.Sources,
			"confidence": answer.Confidence,
		})
		return
	}

	// grounding context exists: make sure the backend is actually up before
	// burning the generation timeout on it.
	if !s.backend.Available(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "AI service unavailable. Please contact an administrator.",
		})
		return
	}

	answer := s.builder.Answer(c.Request.Context(), question, retrieved)
	if answer.Failed() {
		s.writeAnswerFailure(c, answer.Err)
		return
	}

	log.Info().Msgf("answered with confidence %.2f from %d sources", answer.Confidence, len(answer.Sources))
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"answer":     answer.Answer,
		"sources":    answer.Sources,
		"confidence": answer.Confidence,
		"model":      answer.Model,
	})
}

func (s *Server) writeAnswerFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rag.ErrBackendTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"success": false,
			"message": "The request took too long. Please try a simpler question.",
		})
	case errors.Is(err, rag.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "AI service unavailable. Please contact an administrator.",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to generate a response",
		})
	}
}

// adminAuth checks the static shared secret. Authenticated clients send the
// same token on subsequent admin requests via the X-Admin-Token header.
func (s *Server) adminAuth(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token != s.cfg.Server.AdminToken {
		log.Warn().Msg("admin authentication failed")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Authenticated"})
}

// uploadDocument ingests one uploaded file: save, validate, extract, chunk,
// add to the knowledge base. Ingestion is all-or-nothing per document: any
// failure after the save removes the file again.
func (s *Server) uploadDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file provided"})
		return
	}
	filename := helper.SanitizeFilename(file.Filename)
	if filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file selected"})
		return
	}
	if !s.cfg.Document.AllowedExtension(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "File type not allowed"})
		return
	}

	path := filepath.Join(s.cfg.Storage.UploadDir, filename)
	if _, err := os.Stat(path); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "File already exists"})
		return
	}
	if err := c.SaveUploadedFile(file, path); err != nil {
		log.Error().Err(err).Msgf("saving upload %s", filename)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not store the uploaded file"})
		return
	}
	log.Info().Msgf("upload saved: %s", filename)

	discard := func() {
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Msgf("removing rejected upload %s", filename)
		}
	}

	if err := parser.Validate(path, s.cfg.Document.MaxFileSizeMB); err != nil {
		discard()
		log.Warn().Err(err).Msgf("rejected upload %s", filename)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid document: " + userMessage(err)})
		return
	}

	text, _, err := parser.Extract(path)
	if err != nil {
		discard()
		log.Error().Err(err).Msgf("extracting %s", filename)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid document: " + userMessage(err)})
		return
	}

	pageChunks := chunker.New(s.cfg.Document.ChunkSize, s.cfg.Document.MinChunkWords).Split(text)
	if len(pageChunks) == 0 {
		discard()
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No text extracted from document"})
		return
	}
	chunks := make([]models.Chunk, len(pageChunks))
	for i, pc := range pageChunks {
		chunks[i] = models.Chunk{Text: pc.Text, Source: filename, Page: pc.Page}
	}

	added, total, err := s.kb.AddDocument(c.Request.Context(), chunks)
	if err != nil {
		discard()
		log.Error().Err(err).Msgf("ingesting %s", filename)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Processing error, please try again"})
		return
	}

	s.appendUploadLog(models.UploadRecord{
		Filename:  filename,
		Timestamp: float64(time.Now().UnixMilli()) / 1000.0,
		Chunks:    added,
		Status:    "success",
	})

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Successfully processed " + filename,
		"chunks_added": added,
		"total_chunks": total,
	})
}

func (s *Server) listDocuments(c *gin.Context) {
	type documentInfo struct {
		Filename string  `json:"filename"`
		SizeMB   float64 `json:"size_mb"`
		Chunks   int     `json:"chunks"`
	}

	documents := []documentInfo{}
	entries, err := os.ReadDir(s.cfg.Storage.UploadDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error().Err(err).Msg("listing documents")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not list documents"})
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !s.cfg.Document.AllowedExtension(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		documents = append(documents, documentInfo{
			Filename: entry.Name(),
			SizeMB:   float64(info.Size()) / (1024 * 1024),
			Chunks:   s.kb.CountBySource(entry.Name()),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"documents":       documents,
		"total_documents": len(documents),
		"total_chunks":    s.kb.Len(),
	})
}

func (s *Server) deleteDocument(c *gin.Context) {
	filename := helper.SanitizeFilename(c.Param("filename"))
	if filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file specified"})
		return
	}
	path := filepath.Join(s.cfg.Storage.UploadDir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "File not found"})
		return
	}
	if err := os.Remove(path); err != nil {
		log.Error().Err(err).Msgf("removing %s", filename)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not delete file"})
		return
	}

	removed, err := s.kb.RemoveDocument(c.Request.Context(), filename)
	if err != nil {
		log.Error().Err(err).Msgf("removing chunks of %s", filename)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not update knowledge base"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Deleted " + filename,
		"chunks_removed": removed,
		"total_chunks":   s.kb.Len(),
	})
}

// stats is the administrator-facing surface; unlike user responses it may
// expose technical detail.
func (s *Server) stats(c *gin.Context) {
	docCount := 0
	if entries, err := os.ReadDir(s.cfg.Storage.UploadDir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && s.cfg.Document.AllowedExtension(entry.Name()) {
				docCount++
			}
		}
	}

	status := "Disconnected"
	if s.backend.Available(c.Request.Context()) {
		status = "Connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"total_documents": docCount,
			"total_chunks":    s.kb.Len(),
			"ollama_status":   status,
			"ollama_model":    s.backend.Model(),
			"embedding_model": s.cfg.EmbedLLM.Model,
			"config":          s.cfg.Summary(),
		},
	})
}

func (s *Server) health(c *gin.Context) {
	backendOK := s.backend.Available(c.Request.Context())
	chunks := s.kb.Len()

	status := "degraded"
	if backendOK && chunks > 0 {
		status = "healthy"
	}
	ollama := "error"
	if backendOK {
		ollama = "ok"
	}
	kbState := "empty"
	if chunks > 0 {
		kbState = "ok"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"ollama":         ollama,
		"knowledge_base": kbState,
		"chunks":         chunks,
	})
}

// userMessage keeps failure text short and non-technical for end users;
// the full error has already been logged.
func userMessage(err error) string {
	switch {
	case errors.Is(err, parser.ErrFileTooLarge):
		return "file exceeds the size limit"
	case errors.Is(err, parser.ErrUnsupportedFormat):
		return "unsupported file format"
	default:
		return "the file could not be read as a document"
	}
}
