package gbp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//DenseAdapter exposes a caller-owned dense columnar buffer as a row matrix
//without copying it into pages. A NaN element marks a missing feature.
type DenseAdapter struct {
	values []float64
	rows   int
	cols   int
	stride int
}

//NewDenseAdapter wraps a row-major buffer of rows × cols elements.
func NewDenseAdapter(values []float64, rows, cols int) (*DenseAdapter, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for a %dx%d dense buffer", ErrMalformedInput, len(values), rows, cols)
	}
	return &DenseAdapter{values: values, rows: rows, cols: cols, stride: cols}, nil
}

//FromDense wraps a gonum matrix in place, honoring its stride so that views work too.
func FromDense(data *mat.Dense) *DenseAdapter {
	raw := data.RawMatrix()
	return &DenseAdapter{values: raw.Data, rows: raw.Rows, cols: raw.Cols, stride: raw.Stride}
}

//Rows returns the number of rows.
func (m *DenseAdapter) Rows() int { return m.rows }

//Cols returns the number of columns.
func (m *DenseAdapter) Cols() int { return m.cols }

//IsColumnSplit always reports false.
func (m *DenseAdapter) IsColumnSplit() bool { return false }

//Pages returns a fresh iterator holding the single in-place page.
func (m *DenseAdapter) Pages() *PageSeq {
	return &PageSeq{pages: []Page{densePage{m}}}
}

type densePage struct {
	m *DenseAdapter
}

func (page densePage) Base() int { return 0 }
func (page densePage) Size() int { return page.m.rows }
func (page densePage) FillRow(i int, dst []float64) {
	clearRow(dst)
	copy(dst, page.m.values[i*page.m.stride:i*page.m.stride+page.m.cols])
}

//CSRAdapter exposes a caller-owned CSR triple (row pointers, column indices,
//values) as a row matrix without copying it into pages.
type CSRAdapter struct {
	indptr  []int
	indices []int
	values  []float64
	cols    int
}

//NewCSRAdapter wraps a CSR triple describing len(indptr)-1 rows over cols columns.
func NewCSRAdapter(indptr, indices []int, values []float64, cols int) (*CSRAdapter, error) {
	if len(indptr) < 1 || indptr[0] != 0 {
		return nil, fmt.Errorf("%w: CSR row pointers must start at 0", ErrMalformedInput)
	}
	if len(indices) != len(values) {
		return nil, fmt.Errorf("%w: %d CSR indices against %d values", ErrMalformedInput, len(indices), len(values))
	}
	if indptr[len(indptr)-1] != len(values) {
		return nil, fmt.Errorf("%w: CSR row pointers end at %d, want %d", ErrMalformedInput, indptr[len(indptr)-1], len(values))
	}
	for p := 1; p < len(indptr); p++ {
		if indptr[p] < indptr[p-1] {
			return nil, fmt.Errorf("%w: CSR row pointers decrease at row %d", ErrMalformedInput, p-1)
		}
	}
	for _, q := range indices {
		if q < 0 || q >= cols {
			return nil, fmt.Errorf("%w: CSR column index %d outside %d columns", ErrMalformedInput, q, cols)
		}
	}
	return &CSRAdapter{indptr: indptr, indices: indices, values: values, cols: cols}, nil
}

//Rows returns the number of rows.
func (m *CSRAdapter) Rows() int { return len(m.indptr) - 1 }

//Cols returns the number of columns.
func (m *CSRAdapter) Cols() int { return m.cols }

//IsColumnSplit always reports false.
func (m *CSRAdapter) IsColumnSplit() bool { return false }

//Pages returns a fresh iterator holding the single in-place page.
func (m *CSRAdapter) Pages() *PageSeq {
	return &PageSeq{pages: []Page{csrPage{m}}}
}

type csrPage struct {
	m *CSRAdapter
}

func (page csrPage) Base() int { return 0 }
func (page csrPage) Size() int { return len(page.m.indptr) - 1 }
func (page csrPage) FillRow(i int, dst []float64) {
	clearRow(dst)
	for p := page.m.indptr[i]; p < page.m.indptr[i+1]; p++ {
		value := page.m.values[p]
		if math.IsNaN(value) {
			continue
		}
		dst[page.m.indices[p]] = value
	}
}
