package gbp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func contributionRowSum(contribs []float64, groups, slots, row, g int) float64 {
	sum := 0.0
	for q := 0; q < slots; q++ {
		sum += contribs[(row*groups+g)*slots+q]
	}
	return sum
}

func TestContributionsSumToMargin(t *testing.T) {
	r := rand.New(rand.NewSource(31))
	model := randomModel(r, 10, 2, 6, 4)
	matrix := NewSparseMatrix(randomRows(r, 20, 6, 0.5), 6)

	pred := NewCPUPredictor(Context{Threads: 2}, nil)
	margins := pred.InitOutputs(matrix.Rows(), model)
	require.NoError(t, pred.PredictBatch(matrix, margins, model, 0, 0))

	for _, approximate := range []bool{false, true} {
		contribs, err := pred.PredictContribution(matrix, model, approximate)
		require.NoError(t, err)

		shape := contribs.Shape()
		require.Equal(t, []int{matrix.Rows(), model.NumGroups, model.NumFeatures + 1}, []int(shape))

		backing := contribs.Data().([]float64)
		slots := model.NumFeatures + 1
		for p := 0; p < matrix.Rows(); p++ {
			for g := 0; g < model.NumGroups; g++ {
				sum := contributionRowSum(backing, model.NumGroups, slots, p, g)
				require.InDelta(t, margins.At(p, g), sum, 1e-9, "approximate=%v row %d group %d", approximate, p, g)
			}
		}
	}
}

func TestConstantTreeContributesOnlyBias(t *testing.T) {
	model := &Model{NumGroups: 1, NumFeatures: 3}
	model.AppendTree(constTree(1.5), 0)

	matrix := NewSparseMatrix(randomRows(rand.New(rand.NewSource(32)), 4, 3, 0.5), 3)
	pred := NewCPUPredictor(Context{Threads: 1}, nil)

	for _, approximate := range []bool{false, true} {
		contribs, err := pred.PredictContribution(matrix, model, approximate)
		require.NoError(t, err)

		backing := contribs.Data().([]float64)
		slots := model.NumFeatures + 1
		for p := 0; p < matrix.Rows(); p++ {
			for q := 0; q < slots-1; q++ {
				require.Zero(t, backing[p*slots+q], "approximate=%v row %d feature %d", approximate, p, q)
			}
			require.Equal(t, 1.5, backing[p*slots+slots-1], "approximate=%v row %d", approximate, p)
		}
	}
}

func TestExactContributionOfSingleSplit(t *testing.T) {
	// A stump splitting f0 at 0.5 with covers 6 (left, 0.1) and 4 (right, 0.9).
	// Expected value is (0.1*6 + 0.9*4) / 10 = 0.42; a row routed left must move
	// the whole difference through feature 0.
	model := &Model{NumGroups: 1, NumFeatures: 2}
	model.AppendTree(stumpTree(0, 0.5, true, 0.1, 0.9), 0)

	matrix := NewSparseMatrix([]Row{{{Feature: 0, Value: 0.3}}}, 2)
	pred := NewCPUPredictor(Context{Threads: 1}, nil)

	contribs, err := pred.PredictContribution(matrix, model, false)
	require.NoError(t, err)
	backing := contribs.Data().([]float64)

	require.InDelta(t, 0.1-0.42, backing[0], 1e-12)
	require.Zero(t, backing[1])
	require.InDelta(t, 0.42, backing[2], 1e-12)
}

func TestContributionsOnColumnSplitDataAreRejected(t *testing.T) {
	r := rand.New(rand.NewSource(33))
	model := randomModel(r, 4, 1, 4, 2)
	full := NewSparseMatrix(randomRows(r, 6, 4, 0.5), 4)

	group := NewInMemoryGroup(1)
	pred := NewCPUPredictor(Context{Threads: 1}, group.Comm(0))

	_, err := pred.PredictContribution(SliceCols(full, 2, 0), model, false)
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = pred.PredictContribution(SliceCols(full, 2, 0), model, true)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestContributionsRejectZeroCoverInternalNode(t *testing.T) {
	tree := stumpTree(0, 0.5, true, 0.1, 0.9)
	tree.Nodes[0].Cover = 0
	model := &Model{NumGroups: 1, NumFeatures: 1}
	model.AppendTree(tree, 0)

	matrix := NewSparseMatrix([]Row{{{Feature: 0, Value: 0.3}}}, 1)
	pred := NewCPUPredictor(Context{Threads: 1}, nil)

	for _, approximate := range []bool{false, true} {
		_, err := pred.PredictContribution(matrix, model, approximate)
		require.ErrorIs(t, err, ErrMalformedInput, "approximate=%v", approximate)
	}
}

func TestContributionsOnVectorLeavesAreRejected(t *testing.T) {
	tree := randomTree(rand.New(rand.NewSource(34)), 3, 2, 2)
	model := &Model{NumGroups: 2, NumFeatures: 3}
	model.AppendTree(tree, 0)

	matrix := NewSparseMatrix(randomRows(rand.New(rand.NewSource(35)), 4, 3, 0.5), 3)
	pred := NewCPUPredictor(Context{Threads: 1}, nil)

	_, err := pred.PredictContribution(matrix, model, false)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}
