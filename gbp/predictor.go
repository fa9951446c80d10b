package gbp

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//rowBlockSize is the number of rows one worker processes before handing control
//back to the scheduler. Rows inside a block are still handled strictly in order,
//so block boundaries never change the result.
const rowBlockSize = 64

//Context carries the execution settings shared by all prediction calls made
//through one predictor.
type Context struct {
	//Threads bounds the worker pool. Zero or negative means one worker per CPU.
	Threads int
}

func (ctx Context) threads() int {
	if ctx.Threads <= 0 {
		return runtime.NumCPU()
	}
	return ctx.Threads
}

//Predictor is the capability interface implemented by interchangeable prediction
//backends. Every call is synchronous: contributions of all requested trees are
//fully accumulated before it returns.
type Predictor interface {
	//InitOutputs allocates a rows × groups margin buffer filled with the
	//per-group base score.
	InitOutputs(rows int, model *Model) *mat.Dense

	//PredictBatch evaluates the trees in [treeBegin, treeEnd) for every row of
	//the matrix and adds their leaf contributions into out. treeEnd equal to
	//zero means all trees. Disjoint tree ranges compose additively.
	PredictBatch(matrix RowMatrix, out *mat.Dense, model *Model, treeBegin, treeEnd int) error

	//PredictInstance is the single-row equivalent of PredictBatch over the range
	//[treeBegin, NumTrees), including the base score.
	PredictInstance(row Row, model *Model, treeBegin int) ([]float64, error)

	//PredictLeaf returns, per row and tree, the leaf the row lands in. Indices
	//count the tree's leaves from zero. The buffer is flat with row stride
	//equal to the number of trees.
	PredictLeaf(matrix RowMatrix, model *Model) ([]int, error)

	//PredictContribution returns additive per-feature attributions shaped
	//rows × groups × (features+1), the last slot per row being the bias term.
	PredictContribution(matrix RowMatrix, model *Model, approximate bool) (*tensor.Dense, error)
}

//CPUPredictor evaluates ensembles on the local CPU, parallelizing over blocks of
//independent rows. Column-split matrices are delegated to a coordinator driven by
//the configured communicator.
type CPUPredictor struct {
	ctx  Context
	comm Communicator
}

//NewCPUPredictor creates a CPU prediction backend. comm may be nil when no
//column-split matrices will be predicted on.
func NewCPUPredictor(ctx Context, comm Communicator) *CPUPredictor {
	return &CPUPredictor{ctx: ctx, comm: comm}
}

//InitOutputs allocates the margin buffer and broadcasts the base scores into it.
func (p *CPUPredictor) InitOutputs(rows int, model *Model) *mat.Dense {
	out := mat.NewDense(rows, model.NumGroups, nil)
	for row := 0; row < rows; row++ {
		for g := 0; g < model.NumGroups; g++ {
			out.Set(row, g, model.baseScore(g))
		}
	}
	return out
}

//rowWidth returns the dense scratch width for a matrix, rejecting matrices wider
//than the model's feature space.
func rowWidth(matrix RowMatrix, model *Model) (int, error) {
	if model.NumFeatures > 0 && matrix.Cols() > model.NumFeatures {
		return 0, fmt.Errorf("%w: matrix has %d columns, model expects %d features", ErrFeatureCountMismatch, matrix.Cols(), model.NumFeatures)
	}
	if matrix.Cols() > model.NumFeatures {
		return matrix.Cols(), nil
	}
	return model.NumFeatures, nil
}

//accumulate adds one leaf contribution of tree t to an output row. A scalar leaf
//feeds the tree's group; a vector leaf feeds every group at once.
func accumulate(out *mat.Dense, row int, model *Model, t int, leafValue []float64) {
	if len(leafValue) == 1 {
		g := model.Groups[t]
		out.Set(row, g, out.At(row, g)+leafValue[0])
		return
	}
	for g, v := range leafValue {
		out.Set(row, g, out.At(row, g)+v)
	}
}

//forEachRowBlock runs body over blocks of rows of every page in parallel, bounded
//by the context's thread count. body receives the page and a page-local [begin,
//end) row span and must only write output slots of its own rows.
func (p *CPUPredictor) forEachRowBlock(matrix RowMatrix, body func(page Page, begin, end int) error) error {
	grp := new(errgroup.Group)
	grp.SetLimit(p.ctx.threads())

	seq := matrix.Pages()
	for seq.HasNext() {
		page := seq.GetNext()
		for begin := 0; begin < page.Size(); begin += rowBlockSize {
			end := begin + rowBlockSize
			if end > page.Size() {
				end = page.Size()
			}
			page, begin, end := page, begin, end
			grp.Go(func() error {
				return body(page, begin, end)
			})
		}
	}
	return grp.Wait()
}

//PredictBatch accumulates the margin contributions of trees [treeBegin, treeEnd)
//into out for every row of the matrix.
func (p *CPUPredictor) PredictBatch(matrix RowMatrix, out *mat.Dense, model *Model, treeBegin, treeEnd int) error {
	treeBegin, treeEnd, err := model.validateRange(treeBegin, treeEnd)
	if err != nil {
		return err
	}
	width, err := rowWidth(matrix, model)
	if err != nil {
		return err
	}
	if outRows, outCols := out.Dims(); outRows != matrix.Rows() || outCols != model.NumGroups {
		return fmt.Errorf("%w: output buffer is %dx%d, want %dx%d", ErrMalformedInput, outRows, outCols, matrix.Rows(), model.NumGroups)
	}

	if matrix.IsColumnSplit() {
		coordinator, err := p.newCoordinator(matrix, model)
		if err != nil {
			return err
		}
		return coordinator.predictBatch(out, treeBegin, treeEnd)
	}

	return p.forEachRowBlock(matrix, func(page Page, begin, end int) error {
		vec := make([]float64, width)
		for i := begin; i < end; i++ {
			page.FillRow(i, vec)
			row := page.Base() + i
			for t := treeBegin; t < treeEnd; t++ {
				tree := model.Trees[t]
				accumulate(out, row, model, t, tree.LeafValue(tree.Evaluate(vec)))
			}
		}
		return nil
	})
}

//PredictInstance evaluates the trees [treeBegin, NumTrees) on one sparse row and
//returns the per-group margins including base scores.
func (p *CPUPredictor) PredictInstance(row Row, model *Model, treeBegin int) ([]float64, error) {
	treeBegin, treeEnd, err := model.validateRange(treeBegin, 0)
	if err != nil {
		return nil, err
	}
	vec, err := denseRow(row, model.NumFeatures)
	if err != nil {
		return nil, err
	}

	out := mat.NewDense(1, model.NumGroups, nil)
	for g := 0; g < model.NumGroups; g++ {
		out.Set(0, g, model.baseScore(g))
	}
	for t := treeBegin; t < treeEnd; t++ {
		tree := model.Trees[t]
		accumulate(out, 0, model, t, tree.LeafValue(tree.Evaluate(vec)))
	}
	return out.RawRowView(0), nil
}

//PredictLeaf returns the leaf each row lands in, per tree, as a flat buffer with
//row stride equal to the number of trees.
func (p *CPUPredictor) PredictLeaf(matrix RowMatrix, model *Model) ([]int, error) {
	width, err := rowWidth(matrix, model)
	if err != nil {
		return nil, err
	}
	numTrees := model.NumTrees()
	leaves := make([]int, matrix.Rows()*numTrees)

	if matrix.IsColumnSplit() {
		coordinator, err := p.newCoordinator(matrix, model)
		if err != nil {
			return nil, err
		}
		if err := coordinator.predictLeaf(leaves); err != nil {
			return nil, err
		}
		return leaves, nil
	}

	err = p.forEachRowBlock(matrix, func(page Page, begin, end int) error {
		vec := make([]float64, width)
		for i := begin; i < end; i++ {
			page.FillRow(i, vec)
			row := page.Base() + i
			for t := 0; t < numTrees; t++ {
				tree := model.Trees[t]
				leaves[row*numTrees+t] = tree.Nodes[tree.Evaluate(vec)].LeafIndex
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leaves, nil
}
