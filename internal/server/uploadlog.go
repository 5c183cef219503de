package server

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"

	"health-rag/internal/models"
)

// appendUploadLog records one ingestion in the audit log. The log is
// best-effort housekeeping: failures are logged and swallowed so they never
// fail an upload that already succeeded.
func (s *Server) appendUploadLog(record models.UploadRecord) {
	path := s.cfg.Storage.UploadLogFile
	var records []models.UploadRecord
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			log.Warn().Err(err).Msg("upload log is malformed, starting a fresh one")
			records = nil
		}
	}
	records = append(records, record)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("encoding upload log")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("writing upload log")
	}
}
