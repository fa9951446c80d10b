package gbp

import (
	"math"
	"math/rand"
)

//stumpTree builds one numeric split with two scalar leaves.
func stumpTree(feature int, threshold float64, defaultLeft bool, leftValue, rightValue float64) OneTree {
	return OneTree{
		Nodes: []TreeNode{
			{TreeNodeId: 0, Feature: feature, Threshold: threshold, DefaultLeft: defaultLeft, Left: 1, Right: 2, LeafIndex: -1, Cover: 10},
			{TreeNodeId: 1, Left: -1, Right: -1, LeafIndex: 0, Cover: 6},
			{TreeNodeId: 2, Left: -1, Right: -1, LeafIndex: 1, Cover: 4},
		},
		Leaves: []LeafNode{
			{LeafNodeId: 0, Value: []float64{leftValue}, Cover: 6},
			{LeafNodeId: 1, Value: []float64{rightValue}, Cover: 4},
		},
	}
}

//categoricalStump builds one categorical split routing set members to the left leaf.
func categoricalStump(feature int, categories []int, defaultLeft bool, inValue, outValue float64) OneTree {
	tree := stumpTree(feature, 0, defaultLeft, inValue, outValue)
	tree.Nodes[0].Categories = NewCategorySet(categories...)
	return tree
}

//constTree builds a single-leaf tree predicting the same value everywhere.
func constTree(value float64) OneTree {
	return OneTree{
		Nodes:  []TreeNode{{TreeNodeId: 0, Left: -1, Right: -1, LeafIndex: 0, Cover: 10}},
		Leaves: []LeafNode{{LeafNodeId: 0, Value: []float64{value}, Cover: 10}},
	}
}

//randomTree grows a perfect binary tree of the given depth with random numeric
//splits, leaf vectors of length leafLen, and covers consistent with the tree
//structure (a parent's cover is the sum of its children's).
func randomTree(r *rand.Rand, numFeatures, depth, leafLen int) OneTree {
	tree := OneTree{}

	var build func(level int) (int, float64)
	build = func(level int) (int, float64) {
		ind := len(tree.Nodes)
		tree.Nodes = append(tree.Nodes, TreeNode{TreeNodeId: ind, Left: -1, Right: -1, LeafIndex: -1})

		if level == 0 {
			value := make([]float64, leafLen)
			for p := range value {
				value[p] = r.NormFloat64()
			}
			cover := 1 + 9*r.Float64()
			tree.Nodes[ind].LeafIndex = len(tree.Leaves)
			tree.Nodes[ind].Cover = cover
			tree.Leaves = append(tree.Leaves, LeafNode{LeafNodeId: len(tree.Leaves), Value: value, Cover: cover})
			return ind, cover
		}

		tree.Nodes[ind].Feature = r.Intn(numFeatures)
		tree.Nodes[ind].Threshold = r.Float64()
		tree.Nodes[ind].DefaultLeft = r.Intn(2) == 0

		leftInd, leftCover := build(level - 1)
		tree.Nodes[ind].Left = leftInd
		rightInd, rightCover := build(level - 1)
		tree.Nodes[ind].Right = rightInd
		tree.Nodes[ind].Cover = leftCover + rightCover
		return ind, leftCover + rightCover
	}

	build(depth)
	return tree
}

//randomModel builds numTrees random trees cycling over numGroups output groups.
func randomModel(r *rand.Rand, numTrees, numGroups, numFeatures, depth int) *Model {
	model := &Model{NumGroups: numGroups, NumFeatures: numFeatures}
	for g := 0; g < numGroups; g++ {
		model.BaseScore = append(model.BaseScore, 0.25*float64(g+1))
	}
	for t := 0; t < numTrees; t++ {
		model.AppendTree(randomTree(r, numFeatures, depth, 1), t%numGroups)
	}
	return model
}

//randomRows builds sparse rows where each feature is present with the given density.
func randomRows(r *rand.Rand, rows, cols int, density float64) []Row {
	result := make([]Row, rows)
	for p := 0; p < rows; p++ {
		var row Row
		for q := 0; q < cols; q++ {
			if r.Float64() < density {
				row = append(row, Entry{Feature: q, Value: r.Float64()})
			}
		}
		result[p] = row
	}
	return result
}

//denseFromRows converts sparse rows into a NaN-filled dense row-major buffer.
func denseFromRows(rows []Row, cols int) []float64 {
	values := make([]float64, len(rows)*cols)
	for p := range values {
		values[p] = math.NaN()
	}
	for p, row := range rows {
		for _, entry := range row {
			values[p*cols+entry.Feature] = entry.Value
		}
	}
	return values
}

//csrFromRows converts sparse rows into a CSR triple.
func csrFromRows(rows []Row) (indptr, indices []int, values []float64) {
	indptr = append(indptr, 0)
	for _, row := range rows {
		for _, entry := range row {
			indices = append(indices, entry.Feature)
			values = append(values, entry.Value)
		}
		indptr = append(indptr, len(indices))
	}
	return indptr, indices, values
}
