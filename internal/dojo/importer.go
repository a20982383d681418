package dojo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nelssec/scanbridge/internal/logger"
	"github.com/nelssec/scanbridge/internal/reports"
)

var (
	ErrDirectoryNotFound = errors.New("report directory does not exist")
	ErrAuthentication    = errors.New("authentication failed")
	ErrNoReports         = errors.New("no report files found")
)

// Platform is everything the importer needs from DefectDojo.
type Platform interface {
	Catalog
	Authenticate(ctx context.Context, username, password string) error
	ImportScan(ctx context.Context, opts ImportOptions) (*ImportResult, error)
}

type ImporterOptions struct {
	Directory      string
	Username       string
	Password       string
	ProductName    string
	EngagementName string
	ScanType       string
}

type FileResult struct {
	File   string `json:"file"`
	TestID int    `json:"test_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Summary struct {
	ProductID      int          `json:"product_id"`
	ProductName    string       `json:"product_name"`
	EngagementID   int          `json:"engagement_id"`
	EngagementName string       `json:"engagement_name"`
	ScanType       string       `json:"scan_type"`
	Files          []FileResult `json:"files"`
	Imported       int          `json:"imported"`
	Failed         int          `json:"failed"`
}

type Importer struct {
	api      Platform
	resolver *Resolver
	opts     ImporterOptions
	log      zerolog.Logger
}

func NewImporter(api Platform, opts ImporterOptions) *Importer {
	return &Importer{
		api:      api,
		resolver: NewResolver(api),
		opts:     opts,
		log:      logger.Get().With().Str("component", "importer").Logger(),
	}
}

// Run uploads every report in the configured directory under a single
// product and engagement. It returns an error only for conditions that
// should stop the whole batch; individual upload failures are recorded in
// the summary.
func (i *Importer) Run(ctx context.Context) (*Summary, error) {
	dir := i.opts.Directory
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}

	if err := i.api.Authenticate(ctx, i.opts.Username, i.opts.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	files, err := reports.Find(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoReports, reports.Ext, dir)
	}

	productName := i.opts.ProductName
	if productName == "" {
		productName = DeriveProductName(files[0])
		i.log.Info().Str("product", productName).Str("file", filepath.Base(files[0])).Msg("Derived product name from report file")
	}

	productID, err := i.resolver.GetOrCreateProduct(ctx, productName)
	if err != nil {
		return nil, err
	}
	engagementID, err := i.resolver.GetOrCreateEngagement(ctx, productID, i.opts.EngagementName)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ProductID:      productID,
		ProductName:    productName,
		EngagementID:   engagementID,
		EngagementName: i.opts.EngagementName,
		ScanType:       i.opts.ScanType,
	}

	i.log.Info().Str("scan_type", i.opts.ScanType).Int("files", len(files)).Msg("Importing reports")
	for _, file := range files {
		if ctx.Err() != nil {
			i.log.Warn().Err(ctx.Err()).Msg("Import interrupted")
			break
		}

		fr := FileResult{File: file}
		result, err := i.ImportReport(ctx, engagementID, file)
		if err != nil {
			fr.Error = err.Error()
			summary.Failed++
			i.log.Error().Err(err).Str("file", file).Msg("Error importing scan")
		} else {
			fr.TestID = result.TestID
			summary.Imported++
			i.log.Info().Str("file", filepath.Base(file)).Int("test_id", result.TestID).Msg("Import successful")
		}
		summary.Files = append(summary.Files, fr)
	}

	i.log.Info().Int("imported", summary.Imported).Int("failed", summary.Failed).
		Int("product_id", productID).Int("engagement_id", engagementID).Msg("Import complete")
	return summary, nil
}

// ImportReport uploads one report under engagementID.
func (i *Importer) ImportReport(ctx context.Context, engagementID int, path string) (*ImportResult, error) {
	i.log.Debug().Str("file", path).Msg("Importing")
	return i.api.ImportScan(ctx, DefaultImportOptions(engagementID, path, i.opts.ScanType))
}
