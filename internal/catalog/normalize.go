// internal/catalog/normalize.go
package catalog

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

type field int

const (
	fieldName field = iota
	fieldQuantity
	fieldPrice
	fieldDescription
	fieldCategory
	fieldCount
)

// Header labels understood by the normalizer, keyed by their folded form.
var headerAliases = map[string]field{
	"name":         fieldName,
	"product":      fieldName,
	"название":     fieldName,
	"наименование": fieldName,
	"товар":        fieldName,
	"quantity":     fieldQuantity,
	"qty":          fieldQuantity,
	"stock":        fieldQuantity,
	"количество":   fieldQuantity,
	"кол-во":       fieldQuantity,
	"остаток":      fieldQuantity,
	"price":        fieldPrice,
	"цена":         fieldPrice,
	"стоимость":    fieldPrice,
	"description":  fieldDescription,
	"описание":     fieldDescription,
	"category":     fieldCategory,
	"категория":    fieldCategory,
}

// Normalizer turns raw feed rows into Records. It never fails a snapshot:
// unusable rows come back as *MalformedRecordError and are skipped.
type Normalizer struct {
	columns    [fieldCount]int
	positional bool
}

// NewNormalizer maps columns from the header labels. A header without a
// recognizable name column is treated as data, and the positional layout
// name, quantity, price, description, category applies.
func NewNormalizer(header []string) *Normalizer {
	n := &Normalizer{}
	for i := range n.columns {
		n.columns[i] = -1
	}
	for i, label := range header {
		f, ok := headerAliases[Key(label)]
		if !ok || n.columns[f] >= 0 {
			continue
		}
		n.columns[f] = i
	}
	if n.columns[fieldName] < 0 {
		n.positional = true
		for i := range n.columns {
			n.columns[i] = i
		}
	}
	return n
}

// Positional reports whether the header was not recognized.
func (n *Normalizer) Positional() bool {
	return n.positional
}

func (n *Normalizer) cell(row RawRow, f field) string {
	v, _ := row.Cell(n.columns[f])
	return strings.TrimSpace(v)
}

// Normalize converts one row. The returned error, if any, is a
// *MalformedRecordError and the record must be skipped.
func (n *Normalizer) Normalize(row RawRow) (Record, error) {
	name := n.cell(row, fieldName)
	if name == "" {
		return Record{}, &MalformedRecordError{Line: row.Line, Reason: ErrMissingName}
	}
	return Record{
		Name:        name,
		Quantity:    ParseQuantity(n.cell(row, fieldQuantity)),
		Price:       ParsePrice(n.cell(row, fieldPrice)),
		Description: n.cell(row, fieldDescription),
		Category:    n.cell(row, fieldCategory),
	}, nil
}

// NormalizeTable normalizes every row of a snapshot in source order.
func NormalizeTable(t *Table) ([]Record, []error) {
	n := NewNormalizer(t.Header)
	rows := t.Rows
	if n.Positional() && len(t.Header) > 0 {
		rows = append([]RawRow{{Line: t.HeaderLine, Cells: t.Header}}, rows...)
	}

	records := make([]Record, 0, len(rows))
	var skipped []error
	for _, row := range rows {
		rec, err := n.Normalize(row)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// ParseQuantity reads a non-negative integer. Unparsable or negative input
// yields 0; fractional input is truncated.
func ParseQuantity(s string) int {
	s = cleanNumber(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return max(n, 0)
	}
	d, err := parseDecimal(s)
	if err != nil || d.IsNegative() || d.GreaterThan(maxQuantity) {
		return 0
	}
	return int(d.IntPart())
}

var maxQuantity = decimal.NewFromInt(math.MaxInt)

// ParsePrice reads a non-negative decimal. Unparsable or negative input
// yields 0.
func ParsePrice(s string) decimal.Decimal {
	d, err := parseDecimal(cleanNumber(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// commaGrouped matches integers grouped by commas in threes, like 1,000 or
// 12,500,000. A lone comma followed by one, two or four digits stays a
// decimal comma.
var commaGrouped = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+$`)

func parseDecimal(s string) (decimal.Decimal, error) {
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."),
		commaGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}

// cleanNumber drops grouping spaces and any currency or unit text around
// the number.
func cleanNumber(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\'' {
			return -1
		}
		return r
	}, s)
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Sc, r)
	})
}
