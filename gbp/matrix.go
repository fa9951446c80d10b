package gbp

import (
	"fmt"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//Entry is one stored feature of a sparse row.
type Entry struct {
	Feature int
	Value   float64
}

//Row is a sparse set of (feature, value) pairs with unique feature indices.
//Column order carries no meaning.
type Row []Entry

//Page is an immutable view over a contiguous span of rows of a matrix.
type Page interface {
	//Base returns the matrix-wide index of the first row of the page.
	Base() int
	//Size returns the number of rows in the page.
	Size() int
	//FillRow writes the page-local row i into dst as a dense vector in which a
	//missing feature is NaN. len(dst) must be at least the matrix column count.
	FillRow(i int, dst []float64)
}

//PageSeq is an iterator over the pages of a matrix.
type PageSeq struct {
	pages []Page
	pos   int
}

//HasNext checks whether there are more pages in the iterator.
func (seq *PageSeq) HasNext() bool {
	return seq.pos < len(seq.pages)
}

//GetNext returns the next page and moves the iterator to the following position.
func (seq *PageSeq) GetNext() Page {
	page := seq.pages[seq.pos]
	seq.pos++
	return page
}

//RowMatrix supplies feature rows to the predictor as a restartable lazy sequence
//of immutable pages.
type RowMatrix interface {
	Rows() int
	Cols() int
	//IsColumnSplit reports whether this matrix holds only a column slice of the
	//data, with the remaining columns owned by other workers of the group.
	IsColumnSplit() bool
	Pages() *PageSeq
}

//clearRow resets a dense scratch row back to all-NaN so that it can be reused
//across rows and pages.
func clearRow(dst []float64) {
	for q := range dst {
		dst[q] = math.NaN()
	}
}

//SparseMatrix is a materialized row matrix split into pages of a fixed size.
type SparseMatrix struct {
	rows     []Row
	cols     int
	pageSize int
}

//NewSparseMatrix builds a matrix over the given rows as a single page.
func NewSparseMatrix(rows []Row, cols int) *SparseMatrix {
	return &SparseMatrix{rows: rows, cols: cols, pageSize: len(rows)}
}

//WithPageSize re-slices the matrix into pages of at most pageSize rows each.
//Predictions are identical regardless of the page boundaries.
func (m *SparseMatrix) WithPageSize(pageSize int) *SparseMatrix {
	m.pageSize = pageSize
	return m
}

//Rows returns the number of rows.
func (m *SparseMatrix) Rows() int { return len(m.rows) }

//Cols returns the number of columns.
func (m *SparseMatrix) Cols() int { return m.cols }

//IsColumnSplit always reports false: a SparseMatrix holds every column.
func (m *SparseMatrix) IsColumnSplit() bool { return false }

//Row returns one sparse row of the matrix.
func (m *SparseMatrix) Row(i int) Row { return m.rows[i] }

//Pages returns a fresh iterator over the pages of the matrix.
func (m *SparseMatrix) Pages() *PageSeq {
	pageSize := m.pageSize
	if pageSize <= 0 {
		pageSize = len(m.rows)
	}
	var pages []Page
	for base := 0; base < len(m.rows); base += pageSize {
		end := base + pageSize
		if end > len(m.rows) {
			end = len(m.rows)
		}
		pages = append(pages, sparsePage{base: base, rows: m.rows[base:end]})
	}
	return &PageSeq{pages: pages}
}

type sparsePage struct {
	base int
	rows []Row
}

func (page sparsePage) Base() int { return page.base }
func (page sparsePage) Size() int { return len(page.rows) }
func (page sparsePage) FillRow(i int, dst []float64) {
	clearRow(dst)
	for _, entry := range page.rows[i] {
		dst[entry.Feature] = entry.Value
	}
}

//ColumnSlice is a column-split view of a matrix: it exposes every row but only
//the features in [BeginCol, EndCol), keeping global feature indices. Row identity
//is shared with the other workers holding the remaining columns.
type ColumnSlice struct {
	parent   *SparseMatrix
	beginCol int
	endCol   int
}

//SliceCols divides the columns of a matrix into worldSize contiguous blocks and
//returns the view of the block owned by rank, mirroring how a training pipeline
//shards features across workers.
func SliceCols(m *SparseMatrix, worldSize, rank int) *ColumnSlice {
	perWorker := (m.Cols() + worldSize - 1) / worldSize
	beginCol := perWorker * rank
	endCol := beginCol + perWorker
	if endCol > m.Cols() {
		endCol = m.Cols()
	}
	return &ColumnSlice{parent: m, beginCol: beginCol, endCol: endCol}
}

//Rows returns the number of rows, identical on every worker of the group.
func (m *ColumnSlice) Rows() int { return m.parent.Rows() }

//Cols returns the full column count of the unsplit matrix.
func (m *ColumnSlice) Cols() int { return m.parent.Cols() }

//IsColumnSplit always reports true.
func (m *ColumnSlice) IsColumnSplit() bool { return true }

//Owns reports whether this worker holds the given feature.
func (m *ColumnSlice) Owns(feature int) bool {
	return feature >= m.beginCol && feature < m.endCol
}

//Pages returns a fresh iterator over the pages of the slice.
func (m *ColumnSlice) Pages() *PageSeq {
	seq := m.parent.Pages()
	pages := make([]Page, 0, len(seq.pages))
	for seq.HasNext() {
		pages = append(pages, slicedPage{inner: seq.GetNext(), slice: m})
	}
	return &PageSeq{pages: pages}
}

type slicedPage struct {
	inner Page
	slice *ColumnSlice
}

func (page slicedPage) Base() int { return page.inner.Base() }
func (page slicedPage) Size() int { return page.inner.Size() }
func (page slicedPage) FillRow(i int, dst []float64) {
	page.inner.FillRow(i, dst)
	for q := range dst {
		if q < page.slice.beginCol || q >= page.slice.endCol {
			dst[q] = math.NaN()
		}
	}
}

//ReadNpy reads the content of an npy file into a dense matrix.
func ReadNpy(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}
	return denseMat, nil
}
