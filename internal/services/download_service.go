package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ingest-service/internal/m2m"
	"ingest-service/internal/metrics"
	"ingest-service/internal/models"
	"ingest-service/internal/repository"
	"ingest-service/internal/retry"
	"ingest-service/internal/utils"
)

// downloadTimeout bounds a single band transfer. Band files run to a few
// hundred megabytes, so this is generous rather than tight.
const downloadTimeout = 30 * time.Minute

// DownloadTask is one band file to fetch. NoAudit tasks leave the audit log
// untouched; bundle archives are acquisition vehicles, and their trail is
// written per extracted band by the caller.
type DownloadTask struct {
	EntityID string
	BandName string
	URL      string
	FileSize int64
	DestDir  string
	NoAudit  bool
}

// DownloadResult reports one finished task. Skipped results made no network
// request at all; their band was delivered by an earlier run.
type DownloadResult struct {
	Task     DownloadTask
	Path     string
	Bytes    int64
	Duration time.Duration
	Skipped  bool
	Err      error
}

// DownloadService fetches band files with a fixed worker pool, bounded
// retries per band and a one-row-per-band audit trail.
type DownloadService struct {
	client      *http.Client
	auditLog    repository.DownloadLogRepository
	policy      retry.Policy
	concurrency int
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// NewDownloadService creates the worker pool service. The pool size comes
// from configuration; the catalog tolerates few parallel transfers.
func NewDownloadService(auditLog repository.DownloadLogRepository, policy retry.Policy, concurrency int, m *metrics.Metrics, log *zap.Logger) *DownloadService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &DownloadService{
		client:      &http.Client{Timeout: downloadTimeout},
		auditLog:    auditLog,
		policy:      policy,
		concurrency: concurrency,
		metrics:     m,
		log:         log,
	}
}

// Run works through the tasks and returns one result per task, in completion
// order. Failures are carried in the results, never lost; a canceled context
// drains the queue while finalizing every audit row.
func (s *DownloadService) Run(ctx context.Context, tasks []DownloadTask) []DownloadResult {
	jobs := make(chan DownloadTask)
	results := make(chan DownloadResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				results <- s.runTask(ctx, task)
			}
		}()
	}

	for _, task := range tasks {
		jobs <- task
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]DownloadResult, 0, len(tasks))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (s *DownloadService) runTask(ctx context.Context, task DownloadTask) DownloadResult {
	res := DownloadResult{Task: task}

	if !task.NoAudit {
		prior, err := s.auditLog.Get(task.EntityID, task.BandName)
		if err != nil {
			res.Err = errors.Wrap(err, "reading audit log")
			return res
		}
		if prior != nil && prior.Status == models.DownloadSuccess {
			s.log.Debug("band already downloaded, skipping",
				zap.String("entity_id", task.EntityID),
				zap.String("band", task.BandName))
			s.metrics.RecordDownload("skipped")
			res.Skipped = true
			return res
		}
	}

	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	if !task.NoAudit {
		if _, err := s.auditLog.EnsurePending(task.EntityID, task.BandName, task.URL); err != nil {
			res.Err = errors.Wrap(err, "preparing audit log")
			return res
		}
	}

	s.metrics.DownloadStarted()
	defer s.metrics.DownloadFinished()

	start := time.Now()
	var filePath string
	var byteCount int64
	var lastErr error
	failures := 0
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := retry.Sleep(ctx, s.policy.Delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		filePath, byteCount, lastErr = s.fetch(ctx, task)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
		failures++
		if !task.NoAudit {
			if err := s.auditLog.RecordAttempt(task.EntityID, task.BandName, lastErr.Error()); err != nil {
				s.log.Warn("recording attempt failed", zap.Error(err))
			}
		}
		s.log.Warn("band download attempt failed",
			zap.String("entity_id", task.EntityID),
			zap.String("band", task.BandName),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if !m2m.IsRetryable(lastErr) {
			break
		}
	}

	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			if failures == 0 {
				// never attempted; the row must not stay pending
				if !task.NoAudit {
					_ = s.auditLog.MarkSkipped(task.EntityID, task.BandName, "not attempted: run canceled")
				}
				s.metrics.RecordDownload("skipped")
				res.Skipped = true
			} else {
				if !task.NoAudit {
					_ = s.auditLog.MarkFailed(task.EntityID, task.BandName, "canceled")
				}
				s.metrics.RecordDownload("failed")
			}
			res.Err = lastErr
			return res
		}
		if !task.NoAudit {
			_ = s.auditLog.MarkFailed(task.EntityID, task.BandName, lastErr.Error())
		}
		s.metrics.RecordDownload("failed")
		res.Err = lastErr
		return res
	}

	duration := time.Since(start)
	if !task.NoAudit {
		if err := s.auditLog.MarkSuccess(task.EntityID, task.BandName, byteCount, duration); err != nil {
			res.Err = errors.Wrap(err, "finalizing audit log")
			return res
		}
	}
	s.metrics.RecordDownload("success")
	s.metrics.AddBytesTransferred(byteCount)
	s.metrics.ObserveDownloadDuration(duration)
	s.log.Info("band downloaded",
		zap.String("entity_id", task.EntityID),
		zap.String("band", task.BandName),
		zap.String("size", utils.FormatFileSize(byteCount)),
		zap.Duration("took", duration.Round(time.Millisecond)))
	res.Path = filePath
	res.Bytes = byteCount
	res.Duration = duration
	return res
}

// fetch downloads one band file into the task's directory and verifies the
// payload before reporting success. Partial files are removed so a retry
// starts clean.
func (s *DownloadService) fetch(ctx context.Context, task DownloadTask) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return "", 0, &m2m.FatalError{Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, &m2m.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", 0, &m2m.TransientError{Err: fmt.Errorf("download returned %s", resp.Status)}
	default:
		return "", 0, &m2m.FatalError{Err: fmt.Errorf("download returned %s", resp.Status)}
	}

	// an error document instead of the file, usually an expired URL
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/html") {
		return "", 0, &m2m.TransientError{Err: fmt.Errorf("unexpected content type %s", ct)}
	}

	if err := os.MkdirAll(task.DestDir, 0o755); err != nil {
		return "", 0, &m2m.FatalError{Err: err}
	}
	destPath := filepath.Join(task.DestDir, fileNameFor(resp, task))

	outFile, err := os.Create(destPath)
	if err != nil {
		return "", 0, &m2m.FatalError{Err: err}
	}
	tw := utils.NewThroughputWriter(outFile)
	_, copyErr := io.Copy(tw, resp.Body)
	closeErr := outFile.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(destPath)
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", 0, &m2m.TransientError{Err: copyErr}
	}

	byteCount := tw.Bytes()
	if byteCount == 0 {
		os.Remove(destPath)
		return "", 0, &m2m.TransientError{Err: fmt.Errorf("zero-byte download for %s %s", task.EntityID, task.BandName)}
	}
	if resp.ContentLength > 0 && byteCount != resp.ContentLength {
		os.Remove(destPath)
		return "", 0, &m2m.TransientError{Err: fmt.Errorf("truncated download: %d of %d bytes", byteCount, resp.ContentLength)}
	}
	return destPath, byteCount, nil
}

// fileNameFor prefers the server-provided file name, then the URL path, then
// a synthetic name. Band file names matter because the tile table stores them
// for idempotency checks.
func fileNameFor(resp *http.Response, task DownloadTask) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return filepath.Base(name)
			}
		}
	}
	if u, err := url.Parse(task.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return fmt.Sprintf("%s_%s.TIF", task.EntityID, task.BandName)
}
