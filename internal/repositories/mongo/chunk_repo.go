package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/anamnesi/internal/models"
)

type ChunkRepository interface {
	Insert(ctx context.Context, c *models.ChunkRecord) error
	UpdateSTT(ctx context.Context, interviewID string, cycle, chunkIndex int64, status, text, errMsg string, processingMS int64) error
	ListByInterview(ctx context.Context, interviewID string, cycle int64, limit int64) ([]models.ChunkRecord, error)
}

type chunkRepo struct {
	col *mongo.Collection
}

func NewChunkRepo(db *mongo.Database) ChunkRepository {
	return &chunkRepo{col: db.Collection("chunk_ledger")}
}

func (r *chunkRepo) Insert(ctx context.Context, c *models.ChunkRecord) error {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, c)
	return err
}

func (r *chunkRepo) UpdateSTT(ctx context.Context, interviewID string, cycle, chunkIndex int64, status, text, errMsg string, processingMS int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"interview_id": interviewID, "cycle": cycle, "chunk_index": chunkIndex},
		bson.M{"$set": bson.M{
			"stt_status":         status,
			"text":               text,
			"error":              errMsg,
			"processing_time_ms": processingMS,
		}},
	)
	return err
}

// ListByInterview lists chunks in capture order. cycle <= 0 lists every
// cycle.
func (r *chunkRepo) ListByInterview(ctx context.Context, interviewID string, cycle int64, limit int64) ([]models.ChunkRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	filter := bson.M{"interview_id": interviewID}
	if cycle > 0 {
		filter["cycle"] = cycle
	}
	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "cycle", Value: 1}, {Key: "chunk_index", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.ChunkRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
