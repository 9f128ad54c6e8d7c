package services

import (
	"context"
	"time"

	"github.com/yoockh/anamnesi/internal/models"
	mongorepo "github.com/yoockh/anamnesi/internal/repositories/mongo"
	"github.com/yoockh/anamnesi/internal/utils"
)

// ChunkLedgerService records per-chunk transcription status for
// diagnostics. Entries expire after the configured TTL.
type ChunkLedgerService interface {
	RecordChunk(ctx context.Context, rec *models.ChunkRecord) error
	MarkChunk(ctx context.Context, interviewID string, cycle, chunkIndex int64, status, text, errMsg string, processingMS int64) error
	List(ctx context.Context, interviewID string, cycle int64, limit int64) ([]models.ChunkRecord, error)
}

type chunkLedgerService struct {
	chunks mongorepo.ChunkRepository
	ttl    time.Duration
}

func NewChunkLedgerService(chunks mongorepo.ChunkRepository, ttl time.Duration) ChunkLedgerService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &chunkLedgerService{chunks: chunks, ttl: ttl}
}

func (s *chunkLedgerService) RecordChunk(ctx context.Context, rec *models.ChunkRecord) error {
	const op = "ChunkLedgerService.RecordChunk"

	if rec == nil || rec.InterviewID == "" || rec.ChunkIndex <= 0 {
		return utils.E(utils.CodeInvalidArgument, op, "interview_id is required and chunk_index must be > 0", nil)
	}

	now := time.Now().UTC()
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = now
	}
	if rec.STTStatus == "" {
		rec.STTStatus = models.ChunkPending
	}
	rec.ExpiresAt = now.Add(s.ttl)

	if err := s.chunks.Insert(ctx, rec); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert chunk record", err)
	}
	return nil
}

func (s *chunkLedgerService) MarkChunk(ctx context.Context, interviewID string, cycle, chunkIndex int64, status, text, errMsg string, processingMS int64) error {
	const op = "ChunkLedgerService.MarkChunk"

	if interviewID == "" || chunkIndex <= 0 || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "interview_id, chunk_index (>0), and status are required", nil)
	}
	if err := s.chunks.UpdateSTT(ctx, interviewID, cycle, chunkIndex, status, text, errMsg, processingMS); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update chunk status", err)
	}
	return nil
}

func (s *chunkLedgerService) List(ctx context.Context, interviewID string, cycle int64, limit int64) ([]models.ChunkRecord, error) {
	const op = "ChunkLedgerService.List"

	if interviewID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interview_id is required", nil)
	}
	out, err := s.chunks.ListByInterview(ctx, interviewID, cycle, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list chunk ledger", err)
	}
	return out, nil
}
