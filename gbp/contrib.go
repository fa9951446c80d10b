package gbp

import (
	"fmt"

	"gorgonia.org/tensor"
)

//pathElement is one element of the unique decision path maintained by the exact
//attribution algorithm: the feature met on the path, the fraction of cover that
//flows through when the feature is unknown (zero) or known (one), and the
//permutation weight accumulated so far.
type pathElement struct {
	feature      int
	zeroFraction float64
	oneFraction  float64
	pweight      float64
}

//fillNodeMeanValues computes, for every node of the subtree rooted at ind, the
//cover-weighted expected leaf value of the subtree, and returns the value at ind.
//An internal node without cover cannot be weighted and is rejected.
func (tree OneTree) fillNodeMeanValues(ind int, meanValues []float64) (float64, error) {
	node := tree.Nodes[ind]

	var result float64
	if node.IsLeaf() {
		result = tree.Leaves[node.LeafIndex].Value[0]
	} else {
		if node.Cover == 0 {
			return 0, fmt.Errorf("%w: internal node %d has zero cover", ErrMalformedInput, node.TreeNodeId)
		}
		left, err := tree.fillNodeMeanValues(node.Left, meanValues)
		if err != nil {
			return 0, err
		}
		right, err := tree.fillNodeMeanValues(node.Right, meanValues)
		if err != nil {
			return 0, err
		}
		result = (left*tree.Nodes[node.Left].Cover + right*tree.Nodes[node.Right].Cover) / node.Cover
	}

	meanValues[ind] = result
	return result, nil
}

//calculateContributions distributes one tree's prediction for the dense row vec
//over phi, whose last slot is the bias term. The weighting enumerates every
//root-to-leaf path so that summing phi over all features reconstructs the leaf
//value exactly.
func (tree OneTree) calculateContributions(meanValues, vec, phi []float64) error {
	// The expected value of the whole tree goes to the bias slot.
	phi[len(phi)-1] += meanValues[0]

	maxDepth := tree.maxDepth(0) + 2
	uniquePathData := make([]pathElement, maxDepth*(maxDepth+1)/2)

	return tree.treeShap(vec, phi, 0, 0, uniquePathData, 1, 1, -1)
}

//treeShap recursively walks the tree, keeping the unique path of features split
//on so far, and deposits the Shapley weights into phi once a leaf is reached.
func (tree OneTree) treeShap(
	vec, phi []float64,
	ind, uniqueDepth int,
	parentUniquePath []pathElement,
	parentZeroFraction, parentOneFraction float64,
	parentFeature int,
) error {
	node := tree.Nodes[ind]

	// extend the unique path
	uniquePath := parentUniquePath[uniqueDepth+1:]
	copy(uniquePath, parentUniquePath[:uniqueDepth+1])
	extendPath(uniquePath, uniqueDepth, parentZeroFraction, parentOneFraction, parentFeature)

	if node.IsLeaf() {
		leafValue := tree.Leaves[node.LeafIndex].Value[0]
		for i := 1; i <= uniqueDepth; i++ {
			w, err := unwoundPathSum(uniquePath, uniqueDepth, i)
			if err != nil {
				return err
			}
			el := uniquePath[i]
			phi[el.feature] += w * (el.oneFraction - el.zeroFraction) * leafValue
		}
		return nil
	}

	// find which branch the row actually follows
	hotInd := tree.nextNode(ind, vec)
	coldInd := node.Right
	if hotInd == node.Right {
		coldInd = node.Left
	}

	hotZeroFraction := tree.Nodes[hotInd].Cover / node.Cover
	coldZeroFraction := tree.Nodes[coldInd].Cover / node.Cover
	incomingZeroFraction := 1.0
	incomingOneFraction := 1.0

	// if the path already split on this feature, undo that split so it can be
	// redone for this node
	pathIndex := 0
	for ; pathIndex <= uniqueDepth; pathIndex++ {
		if uniquePath[pathIndex].feature == node.Feature {
			break
		}
	}
	if pathIndex != uniqueDepth+1 {
		incomingZeroFraction = uniquePath[pathIndex].zeroFraction
		incomingOneFraction = uniquePath[pathIndex].oneFraction
		unwindPath(uniquePath, uniqueDepth, pathIndex)
		uniqueDepth--
	}

	err := tree.treeShap(vec, phi, hotInd, uniqueDepth+1, uniquePath,
		hotZeroFraction*incomingZeroFraction, incomingOneFraction, node.Feature)
	if err != nil {
		return err
	}

	return tree.treeShap(vec, phi, coldInd, uniqueDepth+1, uniquePath,
		coldZeroFraction*incomingZeroFraction, 0, node.Feature)
}

//extendPath grows the decision path by one feature with the fractions of cover
//that flow through its zero and one extensions.
func extendPath(uniquePath []pathElement, uniqueDepth int, zeroFraction, oneFraction float64, feature int) {
	uniquePath[uniqueDepth].feature = feature
	uniquePath[uniqueDepth].zeroFraction = zeroFraction
	uniquePath[uniqueDepth].oneFraction = oneFraction
	if uniqueDepth == 0 {
		uniquePath[uniqueDepth].pweight = 1
	} else {
		uniquePath[uniqueDepth].pweight = 0
	}

	for i := uniqueDepth - 1; i >= 0; i-- {
		uniquePath[i+1].pweight += oneFraction * uniquePath[i].pweight * float64(i+1) / float64(uniqueDepth+1)
		uniquePath[i].pweight = zeroFraction * uniquePath[i].pweight * float64(uniqueDepth-i) / float64(uniqueDepth+1)
	}
}

//unwindPath undoes a previous extension of the decision path.
func unwindPath(uniquePath []pathElement, uniqueDepth, pathIndex int) {
	oneFraction := uniquePath[pathIndex].oneFraction
	zeroFraction := uniquePath[pathIndex].zeroFraction
	nextOnePortion := uniquePath[uniqueDepth].pweight

	for i := uniqueDepth - 1; i >= 0; i-- {
		if oneFraction != 0 {
			tmp := uniquePath[i].pweight
			uniquePath[i].pweight = nextOnePortion * float64(uniqueDepth+1) / (float64(i+1) * oneFraction)
			nextOnePortion = tmp - uniquePath[i].pweight*zeroFraction*float64(uniqueDepth-i)/float64(uniqueDepth+1)
		} else {
			uniquePath[i].pweight = uniquePath[i].pweight * float64(uniqueDepth+1) / (zeroFraction * float64(uniqueDepth-i))
		}
	}

	for i := pathIndex; i < uniqueDepth; i++ {
		uniquePath[i].feature = uniquePath[i+1].feature
		uniquePath[i].zeroFraction = uniquePath[i+1].zeroFraction
		uniquePath[i].oneFraction = uniquePath[i+1].oneFraction
	}
}

//unwoundPathSum determines the total permutation weight the path would carry if a
//previous extension were unwound.
func unwoundPathSum(uniquePath []pathElement, uniqueDepth, pathIndex int) (float64, error) {
	oneFraction := uniquePath[pathIndex].oneFraction
	zeroFraction := uniquePath[pathIndex].zeroFraction
	nextOnePortion := uniquePath[uniqueDepth].pweight

	var total float64
	for i := uniqueDepth - 1; i >= 0; i-- {
		if oneFraction != 0 {
			tmp := nextOnePortion * float64(uniqueDepth+1) / (float64(i+1) * oneFraction)
			total += tmp
			nextOnePortion = uniquePath[i].pweight - tmp*zeroFraction*(float64(uniqueDepth-i)/float64(uniqueDepth+1))
			continue
		}
		if zeroFraction != 0 {
			total += (uniquePath[i].pweight / zeroFraction) / (float64(uniqueDepth-i) / float64(uniqueDepth+1))
			continue
		}
		if uniquePath[i].pweight != 0 {
			return 0, fmt.Errorf("%w: unique path element %d carries weight without fractions", ErrMalformedInput, i)
		}
	}
	return total, nil
}

//calculateContributionsApprox walks only the path the row actually takes and
//attributes to each split feature the change in expected value it causes. Cheaper
//than the exact enumeration; the bias plus the per-feature sums still reconstruct
//the leaf value.
func (tree OneTree) calculateContributionsApprox(meanValues, vec, phi []float64) {
	nodeValue := meanValues[0]
	phi[len(phi)-1] += nodeValue

	if tree.Nodes[0].IsLeaf() {
		return
	}

	ind := 0
	feature := 0
	for !tree.Nodes[ind].IsLeaf() {
		feature = tree.Nodes[ind].Feature
		ind = tree.nextNode(ind, vec)
		newValue := meanValues[ind]
		phi[feature] += newValue - nodeValue
		nodeValue = newValue
	}
	phi[feature] += tree.Leaves[tree.Nodes[ind].LeafIndex].Value[0] - nodeValue
}

//PredictContribution computes additive per-feature attributions for every row.
//The result is shaped rows × groups × (features+1) with the bias term in the last
//slot; for every row and group the slots sum to the margin score.
func (p *CPUPredictor) PredictContribution(matrix RowMatrix, model *Model, approximate bool) (*tensor.Dense, error) {
	if matrix.IsColumnSplit() {
		return nil, fmt.Errorf("%w: contribution computation on column-split data", ErrUnsupportedOperation)
	}
	width, err := rowWidth(matrix, model)
	if err != nil {
		return nil, err
	}
	for t := range model.Trees {
		if len(model.Trees[t].Leaves) > 0 && len(model.Trees[t].Leaves[0].Value) != 1 {
			return nil, fmt.Errorf("%w: contribution computation on vector-leaf trees", ErrUnsupportedOperation)
		}
	}

	numTrees := model.NumTrees()
	meanValues := make([][]float64, numTrees)
	for t := 0; t < numTrees; t++ {
		meanValues[t] = make([]float64, len(model.Trees[t].Nodes))
		if _, err := model.Trees[t].fillNodeMeanValues(0, meanValues[t]); err != nil {
			return nil, err
		}
	}

	rows, groups, slots := matrix.Rows(), model.NumGroups, width+1
	contribs := make([]float64, rows*groups*slots)

	err = p.forEachRowBlock(matrix, func(page Page, begin, end int) error {
		vec := make([]float64, width)
		for i := begin; i < end; i++ {
			page.FillRow(i, vec)
			row := page.Base() + i
			for g := 0; g < groups; g++ {
				contribs[(row*groups+g)*slots+slots-1] += model.baseScore(g)
			}
			for t := 0; t < numTrees; t++ {
				tree := model.Trees[t]
				phi := contribs[(row*groups+model.Groups[t])*slots : (row*groups+model.Groups[t])*slots+slots]
				if approximate {
					tree.calculateContributionsApprox(meanValues[t], vec, phi)
					continue
				}
				if err := tree.calculateContributions(meanValues[t], vec, phi); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tensor.New(tensor.WithShape(rows, groups, slots), tensor.WithBacking(contribs)), nil
}
