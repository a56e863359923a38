package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

const (
	failureStreamKey = "fuel_importer:run_failures"
	// failureStreamMaxLen is the approximate number of failure records kept.
	failureStreamMaxLen = 1000
)

// FailureRepository implements domain.RunRecorder using a capped Redis Stream.
type FailureRepository struct {
	client *redis.Client
	logger *slog.Logger
	stream string
}

// NewFailureRepository creates a new Redis-backed failure recorder.
func NewFailureRepository(client *redis.Client, logger *slog.Logger) *FailureRepository {
	return &FailureRepository{
		client: client,
		logger: logger.With("component", "failure_repository"),
		stream: failureStreamKey,
	}
}

// RecordFailure appends report to the failure stream.
func (r *FailureRepository) RecordFailure(ctx context.Context, report domain.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: failureStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload":   payload,
			"run_id":    report.RunID,
			"stage":     string(report.Stage),
			"failed_at": report.FinishedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// RecentFailures returns up to count failure reports, newest first.
func (r *FailureRepository) RecentFailures(ctx context.Context, count int64) ([]domain.RunReport, error) {
	messages, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to XREVRANGE failure stream: %w", err)
	}

	reports := make([]domain.RunReport, 0, len(messages))
	for _, msg := range messages {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			r.logger.Warn("invalid message format in stream, skipping", "message_id", msg.ID)
			continue
		}
		var report domain.RunReport
		if err := json.Unmarshal([]byte(payload), &report); err != nil {
			r.logger.Warn("failed to unmarshal run report from stream, skipping", "message_id", msg.ID, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}
