package gbp

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelSaveLoadRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(51))
	model := randomModel(r, 5, 2, 4, 3)
	model.Trees[0].Nodes[0].Categories = NewCategorySet(1, 5)

	filename := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(filename))

	loaded, err := LoadModel(filename)
	require.NoError(t, err)
	require.Equal(t, model, loaded)

	matrix := NewSparseMatrix(randomRows(r, 9, 4, 0.5), 4)
	pred := NewCPUPredictor(Context{Threads: 1}, nil)

	want := pred.InitOutputs(matrix.Rows(), model)
	require.NoError(t, pred.PredictBatch(matrix, want, model, 0, 0))
	got := pred.InitOutputs(matrix.Rows(), loaded)
	require.NoError(t, pred.PredictBatch(matrix, got, loaded, 0, 0))
	require.Equal(t, want, got)
}

func TestLoadModelOnMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestAppendTreeGrowsMonotonically(t *testing.T) {
	model := &Model{NumGroups: 2, NumFeatures: 1}
	require.Equal(t, 0, model.NumTrees())

	model.AppendTree(constTree(1), 0)
	require.Equal(t, 1, model.NumTrees())
	require.Equal(t, []int{0}, model.Groups)

	model.AppendTree(constTree(2), 1)
	require.Equal(t, 2, model.NumTrees())
	require.Equal(t, []int{0, 1}, model.Groups)
}

func TestCategorySetMembership(t *testing.T) {
	node := TreeNode{Categories: NewCategorySet(0, 31, 32, 100)}

	for _, cat := range []float64{0, 31, 32, 100} {
		require.True(t, node.MatchesCategory(cat), "category %v", cat)
	}
	for _, cat := range []float64{1, 30, 33, 99, 101, 640} {
		require.False(t, node.MatchesCategory(cat), "category %v", cat)
	}
}
