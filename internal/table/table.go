// Package table reads and writes the CSV tables used for batch grading.
package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/godilite/grade-predictor/internal/apperrors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a header plus rows of raw cells. Rows may be shorter or longer
// than the header; callers decide what a ragged row means.
type Table struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// New builds a table, rejecting empty or duplicate column names.
func New(columns []string, rows [][]string) (*Table, error) {
	t := &Table{
		Columns: make([]string, len(columns)),
		Rows:    rows,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, apperrors.Invalid(fmt.Sprintf("column %d", i+1), "header cell is empty", nil)
		}
		if _, dup := t.index[c]; dup {
			return nil, apperrors.Invalid(c, "column appears more than once", nil)
		}
		t.Columns[i] = c
		t.index[c] = i
	}
	return t, nil
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of a column in the header.
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Cell returns the trimmed value of column name in row i. ok is false when
// the column is unknown or the row is too short to hold it.
func (t *Table) Cell(i int, name string) (string, bool) {
	j, ok := t.index[name]
	if !ok || j >= len(t.Rows[i]) {
		return "", false
	}
	return strings.TrimSpace(t.Rows[i][j]), true
}

// Ragged reports whether row i has a different cell count than the header.
func (t *Table) Ragged(i int) bool {
	return len(t.Rows[i]) != len(t.Columns)
}

// ReadCSV parses a CSV document with a header row. A UTF-8 byte order mark
// is dropped and blank lines are skipped.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.Invalid("csv", "table has no header row", nil)
	}
	if err != nil {
		return nil, csvError(err, apperrors.NoRow)
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err, len(rows))
		}
		rows = append(rows, rec)
	}
	return New(header, rows)
}

// WriteCSV writes the header and every row.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// csvError reports a parse failure at data row index row. Blank lines are
// skipped by the reader, so the index counts records, not file lines.
func csvError(err error, row int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		e := apperrors.Invalid("csv", fmt.Sprintf("line %d: %v", pe.StartLine, pe.Err), nil)
		if row != apperrors.NoRow {
			return e.AtRow(row)
		}
		return e
	}
	return fmt.Errorf("read csv: %w", err)
}
