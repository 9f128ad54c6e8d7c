package models

import "time"

// InterviewMeta is the durable registration of a live interview.
type InterviewMeta struct {
	InterviewID string    `bson:"interview_id" json:"interview_id"`
	OwnerID     string    `bson:"owner_id" json:"owner_id"`
	Status      State     `bson:"status" json:"status"`
	Cycles      int64     `bson:"cycles" json:"cycles"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}
