package nessus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScanner is a minimal stand-in for the Nessus REST API.
type fakeScanner struct {
	mu sync.Mutex

	scans        []ScanSummary
	listStatus   int
	exportStatus map[int]int
	// noFile drops the file id from the export response.
	noFile map[int]bool
	// statuses returns the export status for the nth poll (1-based).
	statuses       func(scanID, poll int) string
	pollStatus     map[int]int
	downloadStatus map[int]int

	polls      map[int]int
	apiKeys    []string
	exportBody []map[string]string
	onPoll     func(scanID, poll int)
}

func newFakeScanner(scans ...ScanSummary) *fakeScanner {
	return &fakeScanner{
		scans:          scans,
		exportStatus:   map[int]int{},
		noFile:         map[int]bool{},
		pollStatus:     map[int]int{},
		downloadStatus: map[int]int{},
		polls:          map[int]int{},
		statuses:       func(int, int) string { return "ready" },
	}
}

func (f *fakeScanner) pollCount(scanID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[scanID]
}

func (f *fakeScanner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("X-ApiKeys"))
	f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 1 && parts[0] == "scans" {
		if f.listStatus != 0 {
			http.Error(w, `{"error":"Invalid Credentials"}`, f.listStatus)
			return
		}
		json.NewEncoder(w).Encode(scanListResponse{Scans: f.scans})
		return
	}

	if len(parts) < 3 || parts[0] != "scans" || parts[2] != "export" {
		http.NotFound(w, r)
		return
	}
	scanID, _ := strconv.Atoi(parts[1])

	switch {
	case len(parts) == 3 && r.Method == http.MethodPost:
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.exportBody = append(f.exportBody, body)
		f.mu.Unlock()
		if code := f.exportStatus[scanID]; code != 0 {
			http.Error(w, `{"error":"export failed"}`, code)
			return
		}
		if f.noFile[scanID] {
			w.Write([]byte(`{}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"file": scanID * 100})
	case len(parts) == 5 && parts[4] == "status":
		f.mu.Lock()
		f.polls[scanID]++
		poll := f.polls[scanID]
		onPoll := f.onPoll
		f.mu.Unlock()
		if onPoll != nil {
			onPoll(scanID, poll)
		}
		if code := f.pollStatus[scanID]; code != 0 {
			http.Error(w, `{"error":"no such file"}`, code)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": f.statuses(scanID, poll)})
	case len(parts) == 5 && parts[4] == "download":
		if code := f.downloadStatus[scanID]; code != 0 {
			http.Error(w, `{"error":"download failed"}`, code)
			return
		}
		w.Write([]byte("<NessusClientData_v2 scan=\"" + parts[1] + "\"/>"))
	default:
		http.NotFound(w, r)
	}
}

func newTestExporter(t *testing.T, fake *fakeScanner, opts ExporterOptions) (*Exporter, string) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := NewClient(Options{BaseURL: srv.URL, AccessKey: "ak", SecretKey: "sk"})
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return NewExporter(client, opts), opts.OutputDir
}

func TestExportScanWritesReport(t *testing.T) {
	fake := newFakeScanner(ScanSummary{ID: 7, Name: "Weekly Web Scan"})
	fake.statuses = func(_, poll int) string {
		if poll < 3 {
			return string(StatusLoading)
		}
		return "ready"
	}
	exporter, dir := newTestExporter(t, fake, ExporterOptions{})

	results := exporter.Run(context.Background())
	require.Len(t, results, 1)

	res := results[0]
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, 700, res.FileID)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, filepath.Join(dir, "Weekly_Web_Scan.nessus"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, `<NessusClientData_v2 scan="7"/>`, string(data))
	assert.Equal(t, len(data), res.Bytes)

	require.Len(t, fake.exportBody, 1)
	assert.Equal(t, "nessus", fake.exportBody[0]["format"])
	for _, h := range fake.apiKeys {
		assert.Equal(t, "accessKey=ak; secretKey=sk", h)
	}
}

func TestWaitReadyKeepsPollingUntilReady(t *testing.T) {
	nonReady := []string{"loading", "error", "pending", "", "Ready", "canceled"}
	const target = 25

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFakeScanner(ScanSummary{ID: 1, Name: "stuck"})
	fake.statuses = func(_, poll int) string {
		return nonReady[(poll-1)%len(nonReady)]
	}
	fake.onPoll = func(_, poll int) {
		if poll == target {
			cancel()
		}
	}
	exporter, _ := newTestExporter(t, fake, ExporterOptions{PollTimeout: 0})

	job := &ExportJob{ScanID: 1, FileID: 100, Status: StatusPending}
	polls, err := exporter.WaitReady(ctx, job)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), err.Error())
	assert.GreaterOrEqual(t, polls, target)
	assert.GreaterOrEqual(t, fake.pollCount(1), target)
	assert.NotEqual(t, StatusReady, job.Status)
}

func TestWaitReadyIntervalIsHonoured(t *testing.T) {
	fake := newFakeScanner()
	fake.statuses = func(_, poll int) string {
		if poll < 4 {
			return string(StatusLoading)
		}
		return "ready"
	}
	exporter, _ := newTestExporter(t, fake, ExporterOptions{PollInterval: 20 * time.Millisecond})

	start := time.Now()
	polls, err := exporter.WaitReady(context.Background(), &ExportJob{ScanID: 3, FileID: 300})
	require.NoError(t, err)
	assert.Equal(t, 4, polls)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestWaitReadyTimeout(t *testing.T) {
	fake := newFakeScanner()
	fake.statuses = func(int, int) string { return string(StatusLoading) }
	exporter, _ := newTestExporter(t, fake, ExporterOptions{
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  60 * time.Millisecond,
	})

	polls, err := exporter.WaitReady(context.Background(), &ExportJob{ScanID: 2, FileID: 200})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Greater(t, polls, 1)
}

func TestRunSkipsFailedScans(t *testing.T) {
	fake := newFakeScanner(
		ScanSummary{ID: 1, Name: "export fails"},
		ScanSummary{ID: 2, Name: "poll fails"},
		ScanSummary{ID: 3, Name: "download fails"},
		ScanSummary{ID: 4, Name: "good scan"},
	)
	fake.exportStatus[1] = http.StatusInternalServerError
	fake.pollStatus[2] = http.StatusNotFound
	fake.downloadStatus[3] = http.StatusForbidden
	exporter, dir := newTestExporter(t, fake, ExporterOptions{})

	results := exporter.Run(context.Background())
	require.Len(t, results, 4)

	assert.Contains(t, results[0].Error, "error exporting scan")
	assert.Contains(t, results[0].Error, "export failed")
	assert.Contains(t, results[1].Error, "error waiting for export")
	assert.Contains(t, results[2].Error, "error downloading scan")
	assert.True(t, results[3].OK())

	var apiErr *APIError
	require.True(t, errors.As(exportErr(t, exporter, ScanSummary{ID: 1}), &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good_scan.nessus", entries[0].Name())
}

func TestExportScanMissingFileID(t *testing.T) {
	fake := newFakeScanner(ScanSummary{ID: 5, Name: "no file"}, ScanSummary{ID: 6, Name: "fine"})
	fake.noFile[5] = true
	exporter, _ := newTestExporter(t, fake, ExporterOptions{PollTimeout: 0})

	results := exporter.Run(context.Background())
	require.Len(t, results, 2)

	assert.False(t, results[0].OK())
	assert.Contains(t, results[0].Error, ErrNoExportFile.Error())
	assert.Zero(t, results[0].FileID)
	assert.Zero(t, fake.pollCount(5))
	assert.True(t, results[1].OK(), results[1].Error)
}

func exportErr(t *testing.T, e *Exporter, scan ScanSummary) error {
	t.Helper()
	_, err := e.api.RequestExport(context.Background(), scan.ID, "nessus")
	return err
}

func TestListScansFailureReturnsEmpty(t *testing.T) {
	fake := newFakeScanner(ScanSummary{ID: 1, Name: "hidden"})
	fake.listStatus = http.StatusUnauthorized
	exporter, _ := newTestExporter(t, fake, ExporterOptions{ScannerURL: "https://localhost:8834"})

	checked := false
	exporter.findDaemons = func() ([]DaemonInfo, error) {
		checked = true
		return nil, nil
	}

	scans := exporter.ListScans(context.Background())
	assert.NotNil(t, scans)
	assert.Empty(t, scans)
	assert.True(t, checked)

	assert.Nil(t, exporter.Run(context.Background()))
}

func TestListScansRemoteSkipsDaemonCheck(t *testing.T) {
	fake := newFakeScanner()
	fake.listStatus = http.StatusInternalServerError
	exporter, _ := newTestExporter(t, fake, ExporterOptions{ScannerURL: "https://scanner.example.com:8834"})
	exporter.findDaemons = func() ([]DaemonInfo, error) {
		t.Fatal("daemon check should not run for a remote scanner")
		return nil, nil
	}

	assert.Empty(t, exporter.ListScans(context.Background()))
}

func TestRunStopsWhenCancelled(t *testing.T) {
	fake := newFakeScanner(ScanSummary{ID: 1, Name: "a"}, ScanSummary{ID: 2, Name: "b"})
	fake.statuses = func(int, int) string { return string(StatusLoading) }

	ctx, cancel := context.WithCancel(context.Background())
	fake.onPoll = func(_, poll int) {
		if poll == 2 {
			cancel()
		}
	}
	exporter, _ := newTestExporter(t, fake, ExporterOptions{})

	results := exporter.Run(ctx)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
	assert.Zero(t, fake.pollCount(2))
}
