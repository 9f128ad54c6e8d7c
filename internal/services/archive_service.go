package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yoockh/anamnesi/internal/models"
	pgrepo "github.com/yoockh/anamnesi/internal/repositories/postgres"
	"github.com/yoockh/anamnesi/internal/utils"
)

const DefaultArchiveStream = "interview:archive"

// ArchiveService keeps the outcome of every completed recording cycle.
// With Redis configured, Archive only queues the record and the archive
// workers call Store; otherwise Archive stores directly.
type ArchiveService interface {
	Archive(ctx context.Context, rec *models.InterviewRecord) error
	Store(ctx context.Context, rec *models.InterviewRecord) error
	List(ctx context.Context, ownerID string, allOwners bool, limit int) ([]models.InterviewRecord, error)
	Get(ctx context.Context, id, ownerID string, allOwners bool) (*models.InterviewRecord, error)
}

type archiveService struct {
	repo   pgrepo.InterviewRecordRepo
	redis  *redis.Client
	stream string
}

func NewArchiveService(repo pgrepo.InterviewRecordRepo, rdb *redis.Client, stream string) ArchiveService {
	if stream == "" {
		stream = DefaultArchiveStream
	}
	return &archiveService{repo: repo, redis: rdb, stream: stream}
}

func (s *archiveService) Archive(ctx context.Context, rec *models.InterviewRecord) error {
	const op = "ArchiveService.Archive"

	if rec == nil || rec.InterviewID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "interview_id is required", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if s.redis == nil {
		return s.Store(ctx, rec)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode record", err)
	}
	if err := s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"record_id":    rec.ID,
			"interview_id": rec.InterviewID,
			"cycle":        strconv.FormatInt(rec.Cycle, 10),
			"record":       string(payload),
		},
	}).Err(); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to enqueue record", err)
	}
	return nil
}

func (s *archiveService) Store(ctx context.Context, rec *models.InterviewRecord) error {
	const op = "ArchiveService.Store"

	if s.repo == nil {
		return utils.E(utils.CodeUnavailable, op, "archive database is not configured", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store interview record", err)
	}
	return nil
}

func (s *archiveService) List(ctx context.Context, ownerID string, allOwners bool, limit int) ([]models.InterviewRecord, error) {
	const op = "ArchiveService.List"

	if s.repo == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "archive database is not configured", nil)
	}
	if !allOwners && ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner_id is required", nil)
	}
	if allOwners {
		ownerID = ""
	}
	rows, err := s.repo.List(ctx, ownerID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list interview records", err)
	}
	return rows, nil
}

func (s *archiveService) Get(ctx context.Context, id, ownerID string, allOwners bool) (*models.InterviewRecord, error) {
	const op = "ArchiveService.Get"

	if s.repo == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "archive database is not configured", nil)
	}
	if id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "id is required", nil)
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "interview record not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get interview record", err)
	}
	if !allOwners && rec.OwnerID != ownerID {
		return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return rec, nil
}
