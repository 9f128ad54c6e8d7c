package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/anamnesi/internal/models"
	mongorepo "github.com/yoockh/anamnesi/internal/repositories/mongo"
	"github.com/yoockh/anamnesi/internal/session"
	"github.com/yoockh/anamnesi/internal/storage"
	"github.com/yoockh/anamnesi/internal/utils"
)

type DocumentExport struct {
	InterviewID string    `json:"interview_id"`
	Cycle       int64     `json:"cycle"`
	StoredPath  string    `json:"stored_path"`
	URL         string    `json:"url,omitempty"`
	ExportedAt  time.Time `json:"exported_at"`
}

type InterviewService interface {
	Create(ctx context.Context, ownerID string) (*models.InterviewMeta, error)
	Get(ctx context.Context, interviewID, userID string) (*session.Interview, error)
	Snapshot(ctx context.Context, interviewID, userID string) (models.Snapshot, error)
	Start(ctx context.Context, interviewID, userID string, opts session.StartOptions) (models.Snapshot, error)
	Stop(ctx context.Context, interviewID, userID string) (models.Snapshot, error)
	Delete(ctx context.Context, interviewID, userID string) error
	ExportDocument(ctx context.Context, interviewID, userID string) (*DocumentExport, error)
	Chunks(ctx context.Context, interviewID, userID string, cycle int64) ([]models.ChunkRecord, error)
}

type interviewService struct {
	manager  *session.Manager
	meta     mongorepo.InterviewRepository // optional
	ledger   ChunkLedgerService            // optional
	uploader storage.Uploader              // optional
	signer   storage.Signer                // optional
	log      *logrus.Logger
}

type InterviewServiceDeps struct {
	Manager  *session.Manager
	Meta     mongorepo.InterviewRepository
	Ledger   ChunkLedgerService
	Uploader storage.Uploader
	Signer   storage.Signer
	Logger   *logrus.Logger
}

func NewInterviewService(d InterviewServiceDeps) InterviewService {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	return &interviewService{
		manager:  d.Manager,
		meta:     d.Meta,
		ledger:   d.Ledger,
		uploader: d.Uploader,
		signer:   d.Signer,
		log:      d.Logger,
	}
}

func (s *interviewService) Create(ctx context.Context, ownerID string) (*models.InterviewMeta, error) {
	const op = "InterviewService.Create"

	if ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner_id is required", nil)
	}

	iv := s.manager.Create(ownerID)
	m := &models.InterviewMeta{
		InterviewID: iv.ID,
		OwnerID:     ownerID,
		Status:      models.StateIdle,
		CreatedAt:   iv.CreatedAt,
		UpdatedAt:   iv.CreatedAt,
	}
	if s.meta != nil {
		if err := s.meta.Create(ctx, m); err != nil {
			s.manager.Remove(iv.ID)
			return nil, utils.E(utils.CodeInternal, op, "failed to register interview", err)
		}
	}
	return m, nil
}

func (s *interviewService) Get(_ context.Context, interviewID, userID string) (*session.Interview, error) {
	const op = "InterviewService.Get"

	if interviewID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "interview_id is required", nil)
	}
	iv, ok := s.manager.Get(interviewID)
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "interview not found", utils.ErrNotFound)
	}
	if iv.OwnerID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return iv, nil
}

func (s *interviewService) Snapshot(ctx context.Context, interviewID, userID string) (models.Snapshot, error) {
	iv, err := s.Get(ctx, interviewID, userID)
	if err != nil {
		return models.Snapshot{}, err
	}
	return iv.Controller.Snapshot(), nil
}

func (s *interviewService) Start(ctx context.Context, interviewID, userID string, opts session.StartOptions) (models.Snapshot, error) {
	const op = "InterviewService.Start"

	iv, err := s.Get(ctx, interviewID, userID)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap, err := iv.Controller.Start(ctx, opts)
	if err != nil {
		return models.Snapshot{}, controllerError(op, err)
	}
	s.setStatus(ctx, snap)
	return snap, nil
}

// Stop blocks until the cycle is finalized or ctx ends. Finalization keeps
// running when ctx ends first.
func (s *interviewService) Stop(ctx context.Context, interviewID, userID string) (models.Snapshot, error) {
	const op = "InterviewService.Stop"

	iv, err := s.Get(ctx, interviewID, userID)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap, err := iv.Controller.Stop(ctx)
	if err != nil {
		return models.Snapshot{}, controllerError(op, err)
	}
	s.setStatus(ctx, snap)
	return snap, nil
}

func (s *interviewService) Delete(ctx context.Context, interviewID, userID string) error {
	if _, err := s.Get(ctx, interviewID, userID); err != nil {
		return err
	}
	s.manager.Remove(interviewID)
	return nil
}

func (s *interviewService) ExportDocument(ctx context.Context, interviewID, userID string) (*DocumentExport, error) {
	const op = "InterviewService.ExportDocument"

	if s.uploader == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "document storage is not configured", nil)
	}
	snap, err := s.Snapshot(ctx, interviewID, userID)
	if err != nil {
		return nil, err
	}
	if snap.State != models.StateIdle {
		return nil, utils.E(utils.CodeConflict, op, "interview is still "+string(snap.State), nil)
	}
	if strings.TrimSpace(snap.DocumentText) == "" {
		return nil, utils.E(utils.CodeNotFound, op, "no document to export", nil)
	}

	object := storage.DocumentObject(interviewID, snap.Cycle)
	stored, err := s.uploader.Upload(ctx, object, storage.DocumentContentType, strings.NewReader(snap.DocumentText))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to upload document", err)
	}

	out := &DocumentExport{
		InterviewID: interviewID,
		Cycle:       snap.Cycle,
		StoredPath:  stored,
		ExportedAt:  time.Now().UTC(),
	}
	if s.signer != nil {
		url, err := s.signer.SignedGetURL(ctx, object, storage.DefaultURLTTL)
		if err != nil {
			s.log.WithError(err).WithField("interview_id", interviewID).Warn("signing export url failed")
		} else {
			out.URL = url
		}
	}
	return out, nil
}

func (s *interviewService) Chunks(ctx context.Context, interviewID, userID string, cycle int64) ([]models.ChunkRecord, error) {
	const op = "InterviewService.Chunks"

	if s.ledger == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "chunk ledger is not configured", nil)
	}
	if _, err := s.Get(ctx, interviewID, userID); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, interviewID, cycle, 0)
}

func (s *interviewService) setStatus(ctx context.Context, snap models.Snapshot) {
	if s.meta == nil {
		return
	}
	if err := s.meta.SetStatus(ctx, snap.InterviewID, snap.State, snap.Cycle); err != nil {
		s.log.WithError(err).WithField("interview_id", snap.InterviewID).Warn("failed to update interview status")
	}
}

func controllerError(op string, err error) error {
	var ae *utils.AppError
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, session.ErrClosed):
		return utils.E(utils.CodeNotFound, op, "interview closed", err)
	case errors.Is(err, context.DeadlineExceeded):
		return utils.E(utils.CodeTimeout, op, "timed out waiting for the interview", err)
	case errors.Is(err, context.Canceled):
		return utils.E(utils.CodeUnavailable, op, "request cancelled", err)
	default:
		return utils.E(utils.CodeInternal, op, "interview command failed", err)
	}
}
