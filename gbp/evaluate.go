package gbp

import (
	"fmt"
	"math"
)

//routesLeft reports the routing decision of an internal node for a present
//feature value. Categorical splits route by set membership, numeric splits by
//comparison against the threshold.
func (node TreeNode) routesLeft(value float64) bool {
	if node.Categories != nil {
		return node.MatchesCategory(value)
	}
	return value < node.Threshold
}

//nextNode returns the arena index of the child a dense feature vector routes to
//from the internal node ind. A NaN value marks a missing feature, which takes the
//node's default direction.
func (tree OneTree) nextNode(ind int, vec []float64) int {
	node := tree.Nodes[ind]
	value := vec[node.Feature]
	if math.IsNaN(value) {
		if node.DefaultLeft {
			return node.Left
		}
		return node.Right
	}
	if node.routesLeft(value) {
		return node.Left
	}
	return node.Right
}

//Evaluate routes a dense feature vector from the root to a leaf and returns the
//arena index of that leaf. Traversal is read-only, so one tree is safely shared
//across concurrent rows.
func (tree OneTree) Evaluate(vec []float64) int {
	ind := 0
	for !tree.Nodes[ind].IsLeaf() {
		ind = tree.nextNode(ind, vec)
	}
	return ind
}

//LeafValue returns the prediction vector of the leaf stored at arena index ind.
func (tree OneTree) LeafValue(ind int) []float64 {
	return tree.Leaves[tree.Nodes[ind].LeafIndex].Value
}

//denseRow converts a sparse row into a dense vector of the given width with NaN
//marking missing features.
func denseRow(row Row, width int) ([]float64, error) {
	vec := make([]float64, width)
	clearRow(vec)
	for _, entry := range row {
		if entry.Feature < 0 || entry.Feature >= width {
			return nil, fmt.Errorf("%w: row refers to feature %d, model expects %d features", ErrFeatureCountMismatch, entry.Feature, width)
		}
		vec[entry.Feature] = entry.Value
	}
	return vec, nil
}
