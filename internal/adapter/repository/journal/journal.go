package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

const (
	segmentPrefix = "runs-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644
)

// Journal is an append-only, segment-rotated JSON-lines history of run reports.
// When the segments exceed the disk budget the oldest ones are dropped.
type Journal struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentPath    string
	currentSize    int64
}

// New opens (or creates) the journal in dir and appends to its latest segment.
func New(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}

	j := &Journal{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "run_journal"),
	}

	if err := j.openLatestSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append writes report as one line to the current segment.
func (j *Journal) Append(ctx context.Context, report domain.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report for journal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSegment == nil {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	n, err := j.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to journal segment: %w", err)
	}
	j.currentSize += int64(n)

	if j.currentSize >= j.maxSegmentSize {
		if err := j.rotate(); err != nil {
			j.logger.Error("failed to rotate journal segment", "error", err)
		}
	}
	if err := j.enforceMaxSize(); err != nil {
		j.logger.Error("failed to enforce journal size limit", "error", err)
	}
	return nil
}

// Replay calls handler for every report in the journal, oldest first.
// Lines that cannot be decoded are skipped.
func (j *Journal) Replay(ctx context.Context, handler func(report domain.RunReport) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}

	for _, segmentPath := range segments {
		if err := j.replaySegment(ctx, segmentPath, handler); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) replaySegment(ctx context.Context, segmentPath string, handler func(report domain.RunReport) error) error {
	file, err := os.Open(segmentPath)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", segmentPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var report domain.RunReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			j.logger.Warn("failed to unmarshal run report from journal, skipping", "error", err, "segment", segmentPath)
			continue
		}
		if err := handler(report); err != nil {
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning segment %s: %w", segmentPath, err)
	}
	return nil
}

// Recent returns up to n reports, newest first. With failedOnly set only failed runs are returned.
func (j *Journal) Recent(ctx context.Context, n int, failedOnly bool) ([]domain.RunReport, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]domain.RunReport, 0, n)
	err := j.Replay(ctx, func(report domain.RunReport) error {
		if failedOnly && report.Status != domain.RunFailed {
			return nil
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, report)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.RunReport, len(ring))
	for i, report := range ring {
		out[len(ring)-1-i] = report
	}
	return out, nil
}

// Truncate removes all journal segments and starts a new empty one.
func (j *Journal) Truncate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closeCurrent()

	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}
	for _, segmentPath := range segments {
		if err := os.Remove(segmentPath); err != nil {
			j.logger.Error("failed to remove journal segment", "path", segmentPath, "error", err)
		}
	}

	j.logger.Info("journal truncated")
	return j.openLatestSegment()
}

// Close closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.currentSegment != nil {
		err := j.currentSegment.Close()
		j.currentSegment = nil
		return err
	}
	return nil
}

func (j *Journal) closeCurrent() {
	if j.currentSegment == nil {
		return
	}
	if err := j.currentSegment.Sync(); err != nil {
		j.logger.Error("failed to sync journal segment", "error", err)
	}
	if err := j.currentSegment.Close(); err != nil {
		j.logger.Error("failed to close journal segment", "error", err)
	}
	j.currentSegment = nil
}

func (j *Journal) rotate() error {
	j.closeCurrent()

	segmentName := fmt.Sprintf("%s%d%s", segmentPrefix, time.Now().UnixNano(), segmentSuffix)
	path := filepath.Join(j.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new journal segment %s: %w", path, err)
	}

	j.currentSegment = f
	j.currentPath = path
	j.currentSize = 0
	j.logger.Debug("rotated to new journal segment", "path", path)
	return nil
}

func (j *Journal) openLatestSegment() error {
	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return j.rotate()
	}

	latestSegmentPath := segments[len(segments)-1]
	stat, err := os.Stat(latestSegmentPath)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latestSegmentPath, err)
	}

	f, err := os.OpenFile(latestSegmentPath, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latestSegmentPath, err)
	}

	j.currentSegment = f
	j.currentPath = latestSegmentPath
	j.currentSize = stat.Size()

	if j.currentSize >= j.maxSegmentSize {
		return j.rotate()
	}
	return nil
}

// enforceMaxSize removes the oldest closed segments until the journal fits maxTotalSize.
func (j *Journal) enforceMaxSize() error {
	if j.maxTotalSize <= 0 {
		return nil
	}
	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}

	sizes := make([]int64, len(segments))
	var total int64
	for i, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		sizes[i] = info.Size()
		total += sizes[i]
	}

	for i, path := range segments {
		if total <= j.maxTotalSize || path == j.currentPath {
			break
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to drop journal segment %s: %w", path, err)
		}
		total -= sizes[i]
		j.logger.Warn("journal size limit reached, dropped oldest segment", "path", path)
	}
	return nil
}

func (j *Journal) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			segments = append(segments, filepath.Join(j.dir, name))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

// RecentFailures returns up to count failed run reports, newest first.
func (j *Journal) RecentFailures(ctx context.Context, count int64) ([]domain.RunReport, error) {
	return j.Recent(ctx, int(count), true)
}
