// internal/source/sheets.go
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsFetcher reads one tab of a Google spreadsheet through the Sheets v4
// API with a read-only service account.
type SheetsFetcher struct {
	svc           *sheets.Service
	spreadsheetID string
	names         []string
	tracer        trace.Tracer
}

var _ catalog.Fetcher = (*SheetsFetcher)(nil)

// NewSheetsFetcher authenticates with the configured service account key.
// Extra client options are appended; when they are given the key may be
// omitted.
func NewSheetsFetcher(ctx context.Context, cfg Config, extra ...option.ClientOption) (*SheetsFetcher, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case len(extra) == 0:
		return nil, ErrMissingCredentials
	}
	opts = append(opts, extra...)

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsFetcher{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		names:         cfg.sheetNames(),
		tracer:        otel.Tracer("catalogsync/source"),
	}, nil
}

func (f *SheetsFetcher) Fetch(ctx context.Context) (*catalog.Table, error) {
	ctx, span := f.tracer.Start(ctx, "source.fetch",
		trace.WithAttributes(
			attribute.String("source.kind", KindSheets),
			attribute.String("spreadsheet.id", f.spreadsheetID),
		),
	)
	defer span.End()

	table, err := f.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("sheet.title", table.Sheet),
		attribute.Int("sheet.rows", len(table.Rows)),
	)
	return table, nil
}

func (f *SheetsFetcher) fetch(ctx context.Context) (*catalog.Table, error) {
	doc, err := f.svc.Spreadsheets.Get(f.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("spreadsheet "+f.spreadsheetID, err)
	}
	titles := make([]string, 0, len(doc.Sheets))
	for _, s := range doc.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}

	title, ok := resolveSheet(f.names, titles)
	if !ok {
		return nil, sheetNotFound("spreadsheet "+f.spreadsheetID, f.names, titles)
	}

	vr, err := f.svc.Spreadsheets.Values.Get(f.spreadsheetID, quoteSheet(title)).
		MajorDimension("ROWS").
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("sheet "+title, err)
	}

	values := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellText(v)
		}
		values[i] = cells
	}
	logging.FromContext(ctx).Debug().
		Str("sheet", title).
		Int("rows", len(values)).
		Msg("sheet values fetched")
	return catalog.NewTable(title, values), nil
}

// cellText renders an unformatted cell. Numbers keep plain decimal form so
// locale grouping and exponents never reach the parser.
func cellText(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// quoteSheet renders a sheet title as an A1 range covering the whole tab.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func classify(resource string, err error) error {
	kind := catalog.FetchNetwork
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = catalog.FetchAuth
		case http.StatusNotFound:
			kind = catalog.FetchResourceNotFound
			err = fmt.Errorf("%w: %w", catalog.ErrResourceNotFound, err)
		}
	}
	return &catalog.FetchError{Kind: kind, Resource: resource, Err: err}
}
