// internal/source/workbook.go
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"catalogsync/internal/catalog"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkbookFetcher reads an .xlsx export from disk or over http(s).
type WorkbookFetcher struct {
	location string
	names    []string
	maxBytes int64
	client   *http.Client
	tracer   trace.Tracer
}

var _ catalog.Fetcher = (*WorkbookFetcher)(nil)

var ErrWorkbookTooLarge = errors.New("workbook too large")

// NewWorkbookFetcher returns a fetcher for cfg.Workbook.
func NewWorkbookFetcher(cfg Config) *WorkbookFetcher {
	maxBytes := cfg.MaxWorkbookBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxWorkbookBytes
	}
	return &WorkbookFetcher{
		location: cfg.Workbook,
		names:    cfg.sheetNames(),
		maxBytes: maxBytes,
		client:   &http.Client{Timeout: time.Minute},
		tracer:   otel.Tracer("catalogsync/source"),
	}
}

func remote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func (f *WorkbookFetcher) Fetch(ctx context.Context) (*catalog.Table, error) {
	ctx, span := f.tracer.Start(ctx, "source.fetch",
		trace.WithAttributes(
			attribute.String("source.kind", KindWorkbook),
			attribute.String("workbook", f.location),
		),
	)
	defer span.End()

	wb, err := f.open(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer wb.Close()

	titles := wb.GetSheetList()
	title, ok := resolveSheet(f.names, titles)
	if !ok {
		return nil, sheetNotFound("workbook "+f.location, f.names, titles)
	}
	rows, err := wb.GetRows(title)
	if err != nil {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: "sheet " + title, Err: err}
	}
	span.SetAttributes(attribute.String("sheet.title", title), attribute.Int("sheet.rows", len(rows)))
	return catalog.NewTable(title, rows), nil
}

func (f *WorkbookFetcher) open(ctx context.Context) (*excelize.File, error) {
	resource := "workbook " + f.location
	if !remote(f.location) {
		wb, err := excelize.OpenFile(f.location)
		if errors.Is(err, os.ErrNotExist) {
			return nil, &catalog.FetchError{
				Kind:     catalog.FetchResourceNotFound,
				Resource: resource,
				Err:      fmt.Errorf("%w: %w", catalog.ErrResourceNotFound, err),
			}
		}
		if err != nil {
			return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: fmt.Errorf("open workbook: %w", err)}
		}
		return wb, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.location, nil)
	if err != nil {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: fmt.Errorf("download workbook: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &catalog.FetchError{Kind: catalog.FetchAuth, Resource: resource, Err: fmt.Errorf("download workbook: status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &catalog.FetchError{Kind: catalog.FetchResourceNotFound, Resource: resource, Err: catalog.ErrResourceNotFound}
	case resp.StatusCode != http.StatusOK:
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: fmt.Errorf("download workbook: status %d", resp.StatusCode)}
	}

	if resp.ContentLength > f.maxBytes {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: f.tooLarge()}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: fmt.Errorf("download workbook: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: f.tooLarge()}
	}

	wb, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, &catalog.FetchError{Kind: catalog.FetchNetwork, Resource: resource, Err: fmt.Errorf("read workbook: %w", err)}
	}
	return wb, nil
}

func (f *WorkbookFetcher) tooLarge() error {
	return fmt.Errorf("download workbook: %w: over %d bytes", ErrWorkbookTooLarge, f.maxBytes)
}
