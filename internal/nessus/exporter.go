package nessus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nelssec/scanbridge/internal/logger"
	"github.com/nelssec/scanbridge/internal/reports"
)

var (
	ErrPollTimeout  = errors.New("export not ready before poll timeout")
	ErrNoExportFile = errors.New("export response has no file id")
)

// API is the subset of the scanner REST API the exporter drives.
type API interface {
	ListScans(ctx context.Context) ([]ScanSummary, error)
	RequestExport(ctx context.Context, scanID int, format string) (int, error)
	ExportStatus(ctx context.Context, scanID, fileID int) (ExportStatus, error)
	DownloadExport(ctx context.Context, scanID, fileID int) ([]byte, error)
}

type ExporterOptions struct {
	OutputDir    string
	Format       string
	PollInterval time.Duration
	// PollTimeout bounds WaitReady. Zero means wait until ready or cancelled.
	PollTimeout time.Duration
	// ScannerURL is only used to decide whether a local daemon check makes
	// sense when the scanner is unreachable.
	ScannerURL string
}

type Exporter struct {
	api  API
	opts ExporterOptions
	log  zerolog.Logger

	findDaemons func() ([]DaemonInfo, error)
}

func NewExporter(api API, opts ExporterOptions) *Exporter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Format == "" {
		opts.Format = "nessus"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "./nessus_reports"
	}
	return &Exporter{
		api:         api,
		opts:        opts,
		log:         logger.Get().With().Str("component", "exporter").Logger(),
		findDaemons: FindLocalDaemons,
	}
}

// ListScans never fails: errors are logged and yield an empty list.
func (e *Exporter) ListScans(ctx context.Context) []ScanSummary {
	scans, err := e.api.ListScans(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Error fetching scans")
		e.hintLocalDaemon()
		return []ScanSummary{}
	}
	return scans
}

func (e *Exporter) hintLocalDaemon() {
	if e.opts.ScannerURL == "" || !IsLocalURL(e.opts.ScannerURL) {
		return
	}
	daemons, err := e.findDaemons()
	if err != nil {
		e.log.Debug().Err(err).Msg("Local daemon check unavailable")
		return
	}
	if len(daemons) == 0 {
		e.log.Warn().Str("url", e.opts.ScannerURL).Msg("No nessusd process found on this host; is the scanner service running?")
		return
	}
	for _, d := range daemons {
		e.log.Info().Int("pid", d.PID).Str("command", d.Command).Msg("nessusd is running; check API keys and URL")
	}
}

// Run exports every scan one at a time. A failed scan is logged and skipped.
func (e *Exporter) Run(ctx context.Context) []*ExportResult {
	e.log.Info().Msg("Fetching available scans...")
	scans := e.ListScans(ctx)
	if len(scans) == 0 {
		e.log.Info().Msg("No scans found.")
		return nil
	}

	var results []*ExportResult
	for _, scan := range scans {
		if ctx.Err() != nil {
			e.log.Warn().Err(ctx.Err()).Msg("Export interrupted")
			break
		}
		results = append(results, e.ExportScan(ctx, scan))
	}
	return results
}

func (e *Exporter) ExportScan(ctx context.Context, scan ScanSummary) *ExportResult {
	result := &ExportResult{
		ScanID:    scan.ID,
		ScanName:  scan.Name,
		StartTime: time.Now(),
	}
	log := e.log.With().Int("scan_id", scan.ID).Str("scan", scan.Name).Logger()

	err := e.exportScan(ctx, scan, result, log)

	result.EndTime = time.Now()
	result.DurationSeconds = result.EndTime.Sub(result.StartTime).Seconds()
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Msg("Skipping scan")
	}
	return result
}

func (e *Exporter) exportScan(ctx context.Context, scan ScanSummary, result *ExportResult, log zerolog.Logger) error {
	fileID, err := e.api.RequestExport(ctx, scan.ID, e.opts.Format)
	if err != nil {
		return fmt.Errorf("error exporting scan: %w", err)
	}
	if fileID == 0 {
		return fmt.Errorf("error exporting scan: %w", ErrNoExportFile)
	}
	result.FileID = fileID
	log.Info().Int("file_id", fileID).Msg("Export initiated")

	job := &ExportJob{ScanID: scan.ID, FileID: fileID, Status: StatusPending}
	polls, err := e.WaitReady(ctx, job)
	result.Polls = polls
	if err != nil {
		return fmt.Errorf("error waiting for export: %w", err)
	}

	data, err := e.api.DownloadExport(ctx, scan.ID, fileID)
	if err != nil {
		return fmt.Errorf("error downloading scan: %w", err)
	}

	path, err := reports.Write(e.opts.OutputDir, scan.Name, data)
	if err != nil {
		return err
	}
	result.Path = path
	result.Bytes = len(data)
	log.Info().Str("path", path).Int("bytes", len(data)).Msg("Scan saved")
	return nil
}

// WaitReady polls the export status at the configured interval until the
// scanner reports "ready". Any other status keeps the loop going; only a
// failed status request, the poll timeout or cancellation end it early.
// It returns the number of status requests issued.
func (e *Exporter) WaitReady(ctx context.Context, job *ExportJob) (int, error) {
	if e.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.PollTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		status, err := e.api.ExportStatus(ctx, job.ScanID, job.FileID)
		polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return polls, pollStopped(ctxErr, polls)
			}
			return polls, err
		}

		job.Status = status
		if status == StatusReady {
			return polls, nil
		}
		e.log.Debug().Int("scan_id", job.ScanID).Int("file_id", job.FileID).
			Str("status", string(status)).Int("polls", polls).Msg("Export not ready")

		select {
		case <-ctx.Done():
			return polls, pollStopped(ctx.Err(), polls)
		case <-ticker.C:
		}
	}
}

func pollStopped(err error, polls int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %d polls", ErrPollTimeout, polls)
	}
	return fmt.Errorf("polling stopped after %d polls: %w", polls, err)
}
