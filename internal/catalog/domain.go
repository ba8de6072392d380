// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Record is one normalized catalog row as published by the source feed.
type Record struct {
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
}

// Key returns the natural key of the record.
func (r Record) Key() string {
	return Key(r.Name)
}

// Entry is a catalog record as persisted in the store.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category,omitempty"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Record returns the catalog fields of the entry.
func (e Entry) Record() Record {
	return Record{
		Name:        e.Name,
		Quantity:    e.Quantity,
		Price:       e.Price,
		Description: e.Description,
		Category:    e.Category,
	}
}

// IndexEntry is the minimal projection of a stored entry used for matching.
type IndexEntry struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// RawRow is one data row of the source feed. Cells past len(Cells) are absent.
type RawRow struct {
	Line  int      `json:"line"`
	Cells []string `json:"cells"`
}

// Cell returns the i-th cell and whether the feed carried it.
func (r RawRow) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r.Cells) {
		return "", false
	}
	return r.Cells[i], true
}

// Blank reports whether every cell of the row is empty after trimming.
func (r RawRow) Blank() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Table is a full snapshot of the source sheet.
type Table struct {
	Sheet      string   `json:"sheet"`
	Header     []string `json:"header"`
	HeaderLine int      `json:"header_line"`
	Rows       []RawRow `json:"rows"`
}

// NewTable splits raw sheet values into header and data rows. The first
// non-blank row is the header; blank rows are dropped.
func NewTable(sheet string, values [][]string) *Table {
	t := &Table{Sheet: sheet}
	for i, cells := range values {
		row := RawRow{Line: i + 1, Cells: cells}
		if row.Blank() {
			continue
		}
		if t.Header == nil {
			t.Header = cells
			t.HeaderLine = row.Line
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Key folds a record name into its natural key: trimmed and case-folded, so
// that "Rose", " rose " and "ROSE" collide.
func Key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
