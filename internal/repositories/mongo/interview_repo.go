package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/utils"
)

type InterviewRepository interface {
	Create(ctx context.Context, m *models.InterviewMeta) error
	GetByInterviewID(ctx context.Context, interviewID string) (*models.InterviewMeta, error)
	SetStatus(ctx context.Context, interviewID string, status models.State, cycles int64) error
}

type interviewRepo struct {
	col *mongo.Collection
}

func NewInterviewRepo(db *mongo.Database) InterviewRepository {
	return &interviewRepo{col: db.Collection("interviews")}
}

func (r *interviewRepo) Create(ctx context.Context, m *models.InterviewMeta) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *interviewRepo) GetByInterviewID(ctx context.Context, interviewID string) (*models.InterviewMeta, error) {
	var m models.InterviewMeta
	err := r.col.FindOne(ctx, bson.M{"interview_id": interviewID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &m, err
}

func (r *interviewRepo) SetStatus(ctx context.Context, interviewID string, status models.State, cycles int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"interview_id": interviewID},
		bson.M{"$set": bson.M{
			"status":     status,
			"cycles":     cycles,
			"updated_at": time.Now().UTC(),
		}},
	)
	return err
}
