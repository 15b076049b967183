package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
	PublishCancel(ctx context.Context, jobID string) error
	SubscribeCancel(ctx context.Context, fn func(jobID string))
}

// redisJobQueue is a reliable queue over Redis lists plus a pubsub channel for
// cancellation fan-out.
// Claim: BRPOPLPUSH queue -> processing
// Ack:   LREM from processing
// Cancel: PUBLISH on cancelChannel; every worker instance subscribes and the
// one holding the job cancels its stage context.
type redisJobQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	cancelChannel string
}

func NewRedisJobQueue(rdb *redis.Client, queueKey, processingKey, cancelChannel string) Queue {
	return &redisJobQueue{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: processingKey,
		cancelChannel: cancelChannel,
	}
}

func (q *redisJobQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueKey, jobID).Err()
}

func (q *redisJobQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *redisJobQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, jobID).Err()
}

// RequeueStale moves items from processing back to the queue. Simple reaper:
// at-least-once delivery; the status guards make a second delivery of an
// already-finished job a no-op.
func (q *redisJobQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		id, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		if id != "" {
			moved++
		}
	}
	return moved, nil
}

func (q *redisJobQueue) PublishCancel(ctx context.Context, jobID string) error {
	return q.rdb.Publish(ctx, q.cancelChannel, jobID).Err()
}

func (q *redisJobQueue) SubscribeCancel(ctx context.Context, fn func(jobID string)) {
	sub := q.rdb.Subscribe(ctx, q.cancelChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(msg.Payload)
			}
		}
	}()
}
