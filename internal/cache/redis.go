// Package cache mirrors hot job state into Redis and provides the
// idempotency reservation for client-supplied ids. Everything here is
// best-effort: the event log is the source of truth, the cache only takes
// reads off the hot path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arcana-app/arcana-go/internal/models"
)

// Redis wraps the shared client. Implements job.Cache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func viewKey(jobID string) string { return "arcana:view:" + jobID }

// PutView mirrors a job view snapshot. Failures are logged and swallowed.
func (r *Redis) PutView(ctx context.Context, view *models.JobView) {
	payload, err := json.Marshal(view)
	if err != nil {
		r.logger.Warn("failed to marshal view for cache", "job_id", view.ID, "error", err)
		return
	}
	if err := r.client.Set(ctx, viewKey(view.ID), payload, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to cache view", "job_id", view.ID, "error", err)
	}
}

// DeleteView drops a job's cached snapshot.
func (r *Redis) DeleteView(ctx context.Context, jobID string) {
	if err := r.client.Del(ctx, viewKey(jobID)).Err(); err != nil {
		r.logger.Warn("failed to drop cached view", "job_id", jobID, "error", err)
	}
}

// GetView reads a cached snapshot. Returns nil on miss or any failure.
func (r *Redis) GetView(ctx context.Context, jobID string) *models.JobView {
	payload, err := r.client.Get(ctx, viewKey(jobID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("cache read failed", "job_id", jobID, "error", err)
		}
		return nil
	}
	var view models.JobView
	if err := json.Unmarshal(payload, &view); err != nil {
		r.logger.Warn("corrupt cached view", "job_id", jobID, "error", err)
		return nil
	}
	return &view
}

// Reserve claims a client-supplied idempotency id. It returns true when
// this caller made the claim, false when another request holds it. On any
// Redis failure it returns true: the actor layer still deduplicates by job
// id, the reservation only saves work.
func (r *Redis) Reserve(ctx context.Context, clientID string, ttl time.Duration) bool {
	ok, err := r.client.SetNX(ctx, "arcana:reserve:"+clientID, 1, ttl).Result()
	if err != nil {
		r.logger.Warn("idempotency reservation failed open", "client_id", clientID, "error", err)
		return true
	}
	return ok
}
