// Package compare decides whether a query's output matches the expected result set.
package compare

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"sql_arena/internal/domain/model"
)

const DefaultTolerance = 1e-6

type Options struct {
	Mode              model.ComparisonMode
	StrictColumnOrder bool
	Tolerance         float64 // numeric-tolerance mode only; zero means DefaultTolerance
}

// ResultSet is a table of normalized cells: nil, bool, float64 or string.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

type Outcome struct {
	Equal  bool
	Reason string
}

func mismatch(format string, args ...any) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

// Compare evaluates actual against expected under opts. An expected side without column names is
// compared positionally.
func Compare(actual, expected ResultSet, opts Options) Outcome {
	tol := DefaultTolerance
	if opts.Mode == model.ModeNumericTolerance && opts.Tolerance > 0 {
		tol = opts.Tolerance
	}

	actualRows, out := alignColumns(actual, expected, opts)
	if !out.Equal {
		return out
	}
	actualRows, expectedRows := normalizeColumns(actualRows, expected.Rows)

	switch opts.Mode {
	case model.ModeExactOrder:
		return compareSequence(actualRows, expectedRows, tol)
	case model.ModeSetEquality:
		return compareSequence(dedupe(sortRows(actualRows, tol), tol), dedupe(sortRows(expectedRows, tol), tol), tol)
	case model.ModeUnorderedMultiset, model.ModeNumericTolerance:
		return compareSequence(sortRows(actualRows, tol), sortRows(expectedRows, tol), tol)
	}
	return mismatch("unknown comparison mode %q", opts.Mode)
}

// alignColumns checks the column lists and returns actual's rows reordered to expected's column
// order when the mode permits it.
func alignColumns(actual, expected ResultSet, opts Options) ([][]any, Outcome) {
	width := len(expected.Columns)
	if width == 0 {
		if len(expected.Rows) > 0 {
			width = len(expected.Rows[0])
		}
		if len(expected.Rows) > 0 && len(actual.Columns) != width {
			return nil, mismatch("expected %d columns, got %d", width, len(actual.Columns))
		}
		return actual.Rows, Outcome{Equal: true}
	}
	if len(actual.Columns) != width {
		return nil, mismatch("expected %d columns, got %d", width, len(actual.Columns))
	}

	inOrder := true
	for i := range expected.Columns {
		if !strings.EqualFold(actual.Columns[i], expected.Columns[i]) {
			inOrder = false
			break
		}
	}
	if inOrder {
		return actual.Rows, Outcome{Equal: true}
	}
	if opts.Mode == model.ModeExactOrder || opts.StrictColumnOrder {
		return nil, mismatch("expected columns %v, got %v", expected.Columns, actual.Columns)
	}

	// map each expected column to a distinct actual column with the same name
	perm := make([]int, width)
	used := make([]bool, width)
	for i, want := range expected.Columns {
		perm[i] = -1
		for j, have := range actual.Columns {
			if !used[j] && strings.EqualFold(want, have) {
				perm[i], used[j] = j, true
				break
			}
		}
		if perm[i] < 0 {
			return nil, mismatch("missing column %q", want)
		}
	}

	rows := make([][]any, len(actual.Rows))
	for r, row := range actual.Rows {
		aligned := make([]any, width)
		for i, j := range perm {
			if j < len(row) {
				aligned[i] = row[j]
			}
		}
		rows[r] = aligned
	}
	return rows, Outcome{Equal: true}
}

func compareSequence(actual, expected [][]any, tol float64) Outcome {
	if len(actual) != len(expected) {
		return mismatch("expected %d rows, got %d", len(expected), len(actual))
	}
	for i := range expected {
		if len(actual[i]) != len(expected[i]) {
			return mismatch("row %d: expected %d values, got %d", i+1, len(expected[i]), len(actual[i]))
		}
		for c := range expected[i] {
			if !cellEqual(actual[i][c], expected[i][c], tol) {
				return mismatch("row %d column %d: expected %s, got %s", i+1, c+1, render(expected[i][c]), render(actual[i][c]))
			}
		}
	}
	return Outcome{Equal: true}
}

func sortRows(rows [][]any, tol float64) [][]any {
	out := make([][]any, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return compareRows(out[i], out[j], tol) < 0 })
	return out
}

func dedupe(sorted [][]any, tol float64) [][]any {
	var out [][]any
	for _, row := range sorted {
		if len(out) > 0 && compareRows(out[len(out)-1], row, tol) == 0 {
			continue
		}
		out = append(out, row)
	}
	return out
}

func compareRows(a, b []any, tol float64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareCells(a[i], b[i], tol); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Cells order as NULL < bool < number < string so that both sides sort the same way.
func rankOf(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	}
	return 3
}

func compareCells(a, b any, tol float64) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case float64:
		y := b.(float64)
		if numbersClose(x, y, tol) {
			return 0
		}
		if x < y {
			return -1
		}
		return 1
	}
	return strings.Compare(toString(a), toString(b))
}

func cellEqual(a, b any, tol float64) bool {
	return compareCells(a, b, tol) == 0
}

// normalizeColumns gives both sides one cell type per column before any sorting, so that a
// numeric fixture and the text rendering of a numeric-looking column order the same way.
// A column is numeric when either side holds a number in it; numeric strings in such a
// column become float64 on both sides.
func normalizeColumns(actual, expected [][]any) ([][]any, [][]any) {
	width := 0
	for _, rows := range [][][]any{actual, expected} {
		for _, row := range rows {
			width = max(width, len(row))
		}
	}
	numeric := make([]bool, width)
	for _, rows := range [][][]any{actual, expected} {
		for _, row := range rows {
			for c, v := range row {
				switch v.(type) {
				case float64, int, int64:
					numeric[c] = true
				}
			}
		}
	}
	return normalizeRows(actual, numeric), normalizeRows(expected, numeric)
}

func normalizeRows(rows [][]any, numeric []bool) [][]any {
	out := make([][]any, len(rows))
	for r, row := range rows {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = normalizeCell(v, numeric[c])
		}
		out[r] = cells
	}
	return out
}

func normalizeCell(v any, numeric bool) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		if numeric {
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		}
	}
	return v
}

func numbersClose(a, b, tol float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	diff := math.Abs(a - b)
	if diff <= tol {
		return true
	}
	return diff <= tol*math.Max(math.Abs(a), math.Abs(b))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
