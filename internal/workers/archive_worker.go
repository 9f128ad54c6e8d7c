package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/services"
)

// ArchiveWorkerPool drains the archive stream into Postgres. A record that
// fails to store stays pending and is reclaimed after ReclaimIdle.
type ArchiveWorkerPool struct {
	Redis      *redis.Client
	Archive    services.ArchiveService
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	ReclaimIdle    time.Duration
}

func (p *ArchiveWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Archive == nil {
		return errors.New("ArchiveWorkerPool missing dependency: Redis/Archive must be set")
	}
	if p.Stream == "" {
		p.Stream = services.DefaultArchiveStream
	}
	if p.Group == "" {
		p.Group = "archive-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.ReclaimIdle <= 0 {
		p.ReclaimIdle = time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	go p.runReclaimer(ctx, p.ConsumerPrefix+"-reclaim")
	return nil
}

func (p *ArchiveWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.process(ctx, msg)
			}
		}
	}
}

func (p *ArchiveWorkerPool) runReclaimer(ctx context.Context, consumer string) {
	t := time.NewTicker(p.ReclaimIdle)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		msgs, _, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.ReclaimIdle,
			Start:    "0-0",
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				p.Logger.WithError(err).Warn("archive reclaim failed")
			}
			continue
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
	}
}

// process acks a message once it is stored or known to be unusable.
func (p *ArchiveWorkerPool) process(ctx context.Context, msg redis.XMessage) {
	log := p.Logger.WithField("redis_id", msg.ID)

	rec, err := decodeRecord(msg)
	if err != nil {
		log.WithError(err).Warn("dropping malformed archive message")
		_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
		return
	}
	log = log.WithFields(logrus.Fields{"interview_id": rec.InterviewID, "cycle": rec.Cycle})

	if err := p.Archive.Store(ctx, rec); err != nil {
		log.WithError(err).Error("archive store failed")
		return
	}
	_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
	log.Debug("interview record archived")
}

func decodeRecord(msg redis.XMessage) (*models.InterviewRecord, error) {
	raw, _ := msg.Values["record"].(string)
	if raw == "" {
		return nil, errors.New("missing record field")
	}
	var rec models.InterviewRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if rec.InterviewID == "" {
		return nil, errors.New("record has no interview_id")
	}
	return &rec, nil
}
