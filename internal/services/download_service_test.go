package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ingest-service/internal/metrics"
	"ingest-service/internal/models"
	"ingest-service/internal/retry"
)

// memAuditLog is an in-memory stand-in for the download log repository.
type memAuditLog struct {
	mu      sync.Mutex
	entries map[string]*models.DownloadLogEntry
}

func newMemAuditLog() *memAuditLog {
	return &memAuditLog{entries: map[string]*models.DownloadLogEntry{}}
}

func auditKey(entityID, bandName string) string {
	return entityID + "/" + bandName
}

func (m *memAuditLog) Get(entityID, bandName string) (*models.DownloadLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[auditKey(entityID, bandName)]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (m *memAuditLog) EnsurePending(entityID, bandName, url string) (*models.DownloadLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := auditKey(entityID, bandName)
	entry, ok := m.entries[key]
	if !ok {
		entry = &models.DownloadLogEntry{
			EntityID:    entityID,
			BandName:    bandName,
			Status:      models.DownloadPending,
			DownloadURL: url,
		}
		m.entries[key] = entry
	} else if entry.Status != models.DownloadSuccess {
		entry.Status = models.DownloadPending
		entry.AttemptCount = 0
		entry.ErrorMessage = ""
		entry.DownloadURL = url
	}
	copied := *entry
	return &copied, nil
}

func (m *memAuditLog) RecordAttempt(entityID, bandName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[auditKey(entityID, bandName)]; ok {
		entry.AttemptCount++
		entry.ErrorMessage = message
	}
	return nil
}

func (m *memAuditLog) MarkSuccess(entityID, bandName string, sizeBytes int64, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[auditKey(entityID, bandName)]; ok {
		entry.Status = models.DownloadSuccess
		entry.FileSizeBytes = sizeBytes
		entry.DurationSeconds = duration.Seconds()
		entry.ErrorMessage = ""
	}
	return nil
}

func (m *memAuditLog) MarkFailed(entityID, bandName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[auditKey(entityID, bandName)]; ok {
		entry.Status = models.DownloadFailed
		entry.ErrorMessage = message
	}
	return nil
}

func (m *memAuditLog) MarkSkipped(entityID, bandName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[auditKey(entityID, bandName)]; ok && entry.Status != models.DownloadSuccess {
		entry.Status = models.DownloadSkipped
		entry.ErrorMessage = message
	}
	return nil
}

func (m *memAuditLog) ListByStatus(status models.DownloadStatus, limit int) ([]models.DownloadLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DownloadLogEntry
	for _, entry := range m.entries {
		if status == "" || entry.Status == status {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func newTestDownloadService(audit *memAuditLog) *DownloadService {
	policy := retry.Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 4 * time.Millisecond}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	return NewDownloadService(audit, policy, 2, m, zap.NewNop())
}

func TestDownloadWritesFileAndMarksSuccess(t *testing.T) {
	payload := []byte("tiff bytes go here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="LC08_X_0001_SR_B3.TIF"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)
	dest := t.TempDir()

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "SR_B3", URL: srv.URL + "/download/1", DestDir: dest,
	}})
	require.Len(t, results, 1)
	res := results[0]
	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(len(payload)), res.Bytes)
	assert.Equal(t, filepath.Join(dest, "LC08_X_0001_SR_B3.TIF"), res.Path)

	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, content)

	entry, err := audit.Get("LC08_X_0001", "SR_B3")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.DownloadSuccess, entry.Status)
	assert.Equal(t, int64(len(payload)), entry.FileSizeBytes)
	assert.Equal(t, 0, entry.AttemptCount)
}

func TestNoAuditTaskLeavesLogUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("tar bytes"))
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "BUNDLE", URL: srv.URL + "/bundle.tar", DestDir: t.TempDir(), NoAudit: true,
	}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.NotEmpty(t, results[0].Path)

	rows, err := audit.ListByStatus("", 100)
	require.NoError(t, err)
	assert.Empty(t, rows, "unaudited transfers write no rows")
}

func TestSkipAlreadyDownloadedBandWithoutNetworkCalls(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	_, err := audit.EnsurePending("LC08_X_0001", "SR_B3", "stale-url")
	require.NoError(t, err)
	require.NoError(t, audit.MarkSuccess("LC08_X_0001", "SR_B3", 42, time.Second))

	svc := newTestDownloadService(audit)
	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "SR_B3", URL: srv.URL, DestDir: t.TempDir(),
	}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))

	entry, err := audit.Get("LC08_X_0001", "SR_B3")
	require.NoError(t, err)
	assert.Equal(t, models.DownloadSuccess, entry.Status)
	assert.Equal(t, int64(42), entry.FileSizeBytes)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls int32
	payload := []byte("band payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "SR_B6", URL: srv.URL, DestDir: t.TempDir(),
	}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	entry, err := audit.Get("LC08_X_0001", "SR_B6")
	require.NoError(t, err)
	assert.Equal(t, models.DownloadSuccess, entry.Status)
	assert.Equal(t, 2, entry.AttemptCount)
}

func TestExhaustedAttemptsMarkBandFailed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "QA_PIXEL", URL: srv.URL, DestDir: t.TempDir(),
	}})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	entry, err := audit.Get("LC08_X_0001", "QA_PIXEL")
	require.NoError(t, err)
	assert.Equal(t, models.DownloadFailed, entry.Status)
	assert.Equal(t, 3, entry.AttemptCount)
}

func TestClientErrorFailsWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "SR_B3", URL: srv.URL, DestDir: t.TempDir(),
	}})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	entry, err := audit.Get("LC08_X_0001", "SR_B3")
	require.NoError(t, err)
	assert.Equal(t, models.DownloadFailed, entry.Status)
	assert.Equal(t, 1, entry.AttemptCount)
}

func TestZeroByteBodyIsRetried(t *testing.T) {
	var calls int32
	payload := []byte("real content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "SR_B3", URL: srv.URL, DestDir: t.TempDir(),
	}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(len(payload)), results[0].Bytes)
}

func TestErrorDocumentBodyIsRetried(t *testing.T) {
	var calls int32
	payload := []byte("real content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"errorCode":"DOWNLOAD_EXPIRED"}`))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	results := svc.Run(context.Background(), []DownloadTask{{
		EntityID: "LC08_X_0001", BandName: "SR_B3", URL: srv.URL, DestDir: t.TempDir(),
	}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRunHonorsConcurrencyLimit(t *testing.T) {
	var inflight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	var tasks []DownloadTask
	bands := []string{"SR_B3", "SR_B6", "QA_PIXEL", "QA_RADSAT"}
	for _, entity := range []string{"LC08_X_0001", "LC08_X_0002"} {
		for _, band := range bands {
			tasks = append(tasks, DownloadTask{
				EntityID: entity, BandName: band, URL: srv.URL, DestDir: t.TempDir(),
			})
		}
	}

	results := svc.Run(context.Background(), tasks)
	require.Len(t, results, len(tasks))
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCanceledRunLeavesNoPendingRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	audit := newMemAuditLog()
	svc := newTestDownloadService(audit)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var tasks []DownloadTask
	for _, band := range []string{"SR_B3", "SR_B6", "QA_PIXEL", "QA_RADSAT", "SR_QA_AEROSOL"} {
		tasks = append(tasks, DownloadTask{
			EntityID: "LC08_X_0001", BandName: band, URL: srv.URL, DestDir: t.TempDir(),
		})
	}

	results := svc.Run(ctx, tasks)
	require.Len(t, results, len(tasks))

	var canceled int
	for _, res := range results {
		if res.Err != nil {
			canceled++
		}
	}
	assert.NotZero(t, canceled)

	pending, err := audit.ListByStatus(models.DownloadPending, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
