// Package source reads full catalog snapshots from the upstream feed: a
// Google Sheets spreadsheet or an .xlsx workbook export of one.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"catalogsync/internal/catalog"
)

const (
	KindSheets   = "sheets"
	KindWorkbook = "workbook"
)

// DefaultSheet is the tab read when none is configured.
const DefaultSheet = "Catalog"

// DefaultMaxWorkbookBytes caps a downloaded workbook when no limit is set.
const DefaultMaxWorkbookBytes = 64 << 20

var ErrMissingCredentials = errors.New("missing service account credentials")

// Config selects and configures the feed.
type Config struct {
	Kind          string   `mapstructure:"kind" validate:"oneof=sheets workbook"`
	SpreadsheetID string   `mapstructure:"spreadsheet_id" validate:"required_if=Kind sheets"`
	Sheets        []string `mapstructure:"sheets"`
	// CredentialsFile or CredentialsJSON hold a service account key.
	CredentialsFile string `mapstructure:"credentials_file" validate:"omitempty,file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	// Workbook is a local .xlsx path or an http(s) URL.
	Workbook string `mapstructure:"workbook" validate:"required_if=Kind workbook"`
	// MaxWorkbookBytes bounds a workbook fetched over http(s).
	MaxWorkbookBytes int64 `mapstructure:"max_workbook_bytes" validate:"gte=0"`
}

func (c Config) sheetNames() []string {
	var names []string
	for _, n := range c.Sheets {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return []string{DefaultSheet}
	}
	return names
}

// New builds the fetcher selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (catalog.Fetcher, error) {
	switch cfg.Kind {
	case KindSheets, "":
		return NewSheetsFetcher(ctx, cfg)
	case KindWorkbook:
		return NewWorkbookFetcher(cfg), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// resolveSheet picks the first configured name present in titles, trying an
// exact match before a case-insensitive one.
func resolveSheet(names, titles []string) (string, bool) {
	for _, name := range names {
		for _, t := range titles {
			if t == name {
				return t, true
			}
		}
		for _, t := range titles {
			if catalog.Key(t) == catalog.Key(name) {
				return t, true
			}
		}
	}
	return "", false
}

func sheetNotFound(resource string, names, titles []string) error {
	return &catalog.FetchError{
		Kind:     catalog.FetchResourceNotFound,
		Resource: resource,
		Err: fmt.Errorf("none of sheets %q among %q: %w",
			names, titles, catalog.ErrResourceNotFound),
	}
}
