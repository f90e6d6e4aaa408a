// Package softlabel holds per-clip soft-label sequences and persists them as
// float16 NPY arrays.
package softlabel

import (
	"fmt"
	"slices"
)

// Sequence is a row-major matrix of per-segment class probabilities.
// Rows follow time, columns follow catalog indices.
type Sequence struct {
	Rows int
	Cols int
	Data []float32
}

// NewSequence returns a zero-filled rows x cols sequence.
func NewSequence(rows, cols int) *Sequence {
	return &Sequence{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromRows builds a sequence from equally sized rows.
func FromRows(rows [][]float32) (*Sequence, error) {
	if len(rows) == 0 {
		return &Sequence{}, nil
	}
	cols := len(rows[0])
	seq := NewSequence(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		copy(seq.Row(i), row)
	}
	return seq, nil
}

// At returns the value at row r, column c.
func (s *Sequence) At(r, c int) float32 { return s.Data[r*s.Cols+c] }

// Set stores v at row r, column c.
func (s *Sequence) Set(r, c int, v float32) { s.Data[r*s.Cols+c] = v }

// Row returns row r. The slice aliases the sequence.
func (s *Sequence) Row(r int) []float32 {
	return s.Data[r*s.Cols : (r+1)*s.Cols : (r+1)*s.Cols]
}

// Append adds the rows of other to the end of s.
func (s *Sequence) Append(other *Sequence) error {
	if other == nil || other.Rows == 0 {
		return nil
	}
	if s.Rows == 0 && s.Cols == 0 {
		s.Cols = other.Cols
	}
	if other.Cols != s.Cols {
		return fmt.Errorf("cannot append %d-column rows to %d-column sequence", other.Cols, s.Cols)
	}
	s.Data = append(s.Data, other.Data...)
	s.Rows += other.Rows
	return nil
}

// Head returns a copy of the first n rows.
func (s *Sequence) Head(n int) *Sequence {
	n = max(0, min(n, s.Rows))
	return &Sequence{Rows: n, Cols: s.Cols, Data: slices.Clone(s.Data[:n*s.Cols])}
}

// Window copies rows [from, from+n) into a new n-row sequence. Rows outside
// the stored range stay zero.
func (s *Sequence) Window(from, n int) *Sequence {
	out := NewSequence(n, s.Cols)
	for r := range n {
		src := from + r
		if src < 0 || src >= s.Rows {
			continue
		}
		copy(out.Row(r), s.Row(src))
	}
	return out
}

// ColumnMax returns the per-class maximum over all rows. An empty sequence
// yields zeros.
func (s *Sequence) ColumnMax() []float32 {
	out := make([]float32, s.Cols)
	for r := range s.Rows {
		for c, v := range s.Row(r) {
			if r == 0 || v > out[c] {
				out[c] = v
			}
		}
	}
	return out
}

// ColumnSum returns the per-class sum over all rows.
func (s *Sequence) ColumnSum() []float32 {
	out := make([]float32, s.Cols)
	for r := range s.Rows {
		for c, v := range s.Row(r) {
			out[c] += v
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	return &Sequence{Rows: s.Rows, Cols: s.Cols, Data: slices.Clone(s.Data)}
}
