package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/utils"
)

type InterviewRecordRepo interface {
	Insert(ctx context.Context, rec *models.InterviewRecord) error
	// List returns the newest records first; an empty ownerID lists all owners.
	List(ctx context.Context, ownerID string, limit int) ([]models.InterviewRecord, error)
	ListByInterview(ctx context.Context, interviewID string) ([]models.InterviewRecord, error)
	GetByID(ctx context.Context, id string) (*models.InterviewRecord, error)
}

type interviewRecordRepo struct {
	db *gorm.DB
}

func NewInterviewRecordRepo(db *gorm.DB) InterviewRecordRepo {
	return &interviewRecordRepo{db: db}
}

func (r *interviewRecordRepo) Insert(ctx context.Context, rec *models.InterviewRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *interviewRecordRepo) List(ctx context.Context, ownerID string, limit int) ([]models.InterviewRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var rows []models.InterviewRecord
	err := q.Order("ended_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *interviewRecordRepo) ListByInterview(ctx context.Context, interviewID string) ([]models.InterviewRecord, error) {
	var rows []models.InterviewRecord
	err := r.db.WithContext(ctx).
		Where("interview_id = ?", interviewID).
		Order("cycle ASC").
		Find(&rows).Error
	return rows, err
}

func (r *interviewRecordRepo) GetByID(ctx context.Context, id string) (*models.InterviewRecord, error) {
	var row models.InterviewRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}
