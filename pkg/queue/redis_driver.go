package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streamKey  = "orchestra:executions:stream"
	delayedKey = "orchestra:executions:delayed"
	groupName  = "orchestra-executors"
)

// RedisDriver is the durable Queue implementation: a Redis Stream consumer
// group for at-least-once delivery plus a sorted set for delayed/scheduled
// jobs, promoted into the stream as they come due.
type RedisDriver struct {
	rdb        *redis.Client
	consumer   string
	ackDeadline time.Duration
	logger     *slog.Logger

	mu            sync.Mutex
	lastHeartbeat time.Time

	stopReclaim context.CancelFunc
}

// NewRedisDriver constructs the durable driver and starts its background
// promotion (delayed→stream) and reclaim (stale PEL→stream) loops.
func NewRedisDriver(rdb *redis.Client, consumer string, ackDeadline time.Duration, logger *slog.Logger) (*RedisDriver, error) {
	ctx := context.Background()
	if err := rdb.XGroupCreateMkStream(ctx, streamKey, groupName, "0").Err(); err != nil {
		if !isBusyGroupErr(err) {
			return nil, fmt.Errorf("creating consumer group: %w", err)
		}
	}

	reclaimCtx, cancel := context.WithCancel(context.Background())
	d := &RedisDriver{
		rdb:           rdb,
		consumer:      consumer,
		ackDeadline:   ackDeadline,
		logger:        logger,
		lastHeartbeat: time.Now(),
		stopReclaim:   cancel,
	}
	go d.promoteLoop(reclaimCtx)
	go d.reclaimLoop(reclaimCtx)
	return d, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Close stops the background loops. It does not close the Redis client,
// which the caller owns.
func (d *RedisDriver) Close() {
	d.stopReclaim()
}

func (d *RedisDriver) Enqueue(ctx context.Context, job ExecutionJob, delay time.Duration) error {
	job.EnqueuedAt = time.Now()
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	if delay <= 0 {
		return d.publish(ctx, payload)
	}

	member := fmt.Sprintf("%s:%s", uuid.NewString(), payload)
	score := float64(time.Now().Add(delay).UnixMilli())
	return d.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: member}).Err()
}

func (d *RedisDriver) publish(ctx context.Context, payload []byte) error {
	return d.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"job": payload},
	}).Err()
}

func (d *RedisDriver) Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error) {
	streams, err := d.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: d.consumer,
		Streams:  []string{streamKey, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()

	d.touchHeartbeat()

	if errors.Is(err, redis.Nil) || (err == nil && len(streams) == 0) {
		return Delivery{}, ErrNoJobs
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("reading from stream: %w", err)
	}

	msgs := streams[0].Messages
	if len(msgs) == 0 {
		return Delivery{}, ErrNoJobs
	}
	msg := msgs[0]

	raw, _ := msg.Values["job"].(string)
	var job ExecutionJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison message: ack it so it doesn't jam the stream, and report
		// ErrNoJobs so the caller's loop simply tries again.
		d.rdb.XAck(ctx, streamKey, groupName, msg.ID)
		d.logger.Error("dropping unparseable queue message", "id", msg.ID, "error", err)
		return Delivery{}, ErrNoJobs
	}
	job.Attempt++

	return newDelivery(d, job, msg.ID), nil
}

func (d *RedisDriver) Ack(ctx context.Context, handle string) error {
	return d.rdb.XAck(ctx, streamKey, groupName, handle).Err()
}

// Nack acknowledges the current delivery (removing it from the pending
// entries list) and republishes it, either immediately or via the delayed
// set, carrying the incremented attempt count forward.
func (d *RedisDriver) Nack(ctx context.Context, handle string, delay time.Duration) error {
	msgs, err := d.rdb.XRange(ctx, streamKey, handle, handle).Result()
	if err != nil {
		return fmt.Errorf("reading nacked message: %w", err)
	}
	if err := d.rdb.XAck(ctx, streamKey, groupName, handle).Err(); err != nil {
		return fmt.Errorf("acking nacked message: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	raw, _ := msgs[0].Values["job"].(string)
	var job ExecutionJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return fmt.Errorf("re-reading nacked job: %w", err)
	}
	job.Attempt++
	return d.Enqueue(ctx, job, delay)
}

func (d *RedisDriver) Health(ctx context.Context) (Health, error) {
	backlog, err := d.rdb.XLen(ctx, streamKey).Result()
	if err != nil {
		return Health{}, fmt.Errorf("reading stream length: %w", err)
	}
	delayedCount, err := d.rdb.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return Health{}, fmt.Errorf("reading delayed set size: %w", err)
	}

	d.mu.Lock()
	heartbeat := d.lastHeartbeat
	d.mu.Unlock()

	return Health{
		Driver:        "redis-streams",
		Durable:       true,
		Backlog:       backlog + delayedCount,
		LastHeartbeat: heartbeat,
	}, nil
}

func (d *RedisDriver) touchHeartbeat() {
	d.mu.Lock()
	d.lastHeartbeat = time.Now()
	d.mu.Unlock()
}

// promoteLoop moves due delayed jobs into the stream. Ties across multiple
// worker processes racing to promote the same member are tolerated: ZRem
// returns 0 for the loser, which simply skips re-publishing.
func (d *RedisDriver) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.promoteDue(ctx)
		}
	}
}

func (d *RedisDriver) promoteDue(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	members, err := d.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now), Count: 100,
	}).Result()
	if err != nil {
		d.logger.Error("scanning delayed queue", "error", err)
		return
	}
	for _, member := range members {
		removed, err := d.rdb.ZRem(ctx, delayedKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		idx := indexOfColon(member)
		if idx < 0 {
			continue
		}
		if err := d.publish(ctx, []byte(member[idx+1:])); err != nil {
			d.logger.Error("promoting delayed job", "error", err)
		}
	}
}

func indexOfColon(member string) int {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return i
		}
	}
	return -1
}

// reclaimLoop recovers jobs whose consumer died or hung without acking or
// nacking within ackDeadline, satisfying the visibility-timeout redelivery
// requirement of spec §4.5/§5.
func (d *RedisDriver) reclaimLoop(ctx context.Context) {
	interval := d.ackDeadline / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reclaimStale(ctx)
		}
	}
}

func (d *RedisDriver) reclaimStale(ctx context.Context) {
	_, _, msgs, err := d.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    groupName,
		Consumer: d.consumer,
		MinIdle:  d.ackDeadline,
		Start:    "0-0",
		Count:    50,
	}).Result()
	if err != nil {
		d.logger.Error("reclaiming stale deliveries", "error", err)
		return
	}
	for _, msg := range msgs {
		raw, _ := msg.Values["job"].(string)
		if err := d.rdb.XAck(ctx, streamKey, groupName, msg.ID).Err(); err != nil {
			d.logger.Error("acking reclaimed message", "error", err)
			continue
		}
		if err := d.publish(ctx, []byte(raw)); err != nil {
			d.logger.Error("republishing reclaimed message", "error", err)
		}
	}
}
