package gbp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//ColumnOwner is implemented by column-split matrices that can report which
//features this worker holds.
type ColumnOwner interface {
	RowMatrix
	Owns(feature int) bool
}

//bitVector is a packed bitmask shared through the communicator's OR reduction.
type bitVector []uint64

func (v bitVector) set(i int)        { v[i/64] |= 1 << (uint(i) % 64) }
func (v bitVector) check(i int) bool { return v[i/64]&(1<<(uint(i)%64)) != 0 }

func bitWords(bits int) int { return (bits + 63) / 64 }

//colSplitCoordinator replays every tree traversal identically on each worker of
//the group even though each worker holds only a column slice. For every
//(row, node) pair the worker owning the node's split feature records whether it
//holds a present value and, if so, the routing decision into two bit vectors;
//one OR reduction combines them; afterwards every worker walks all trees from
//the combined bits alone and reaches bit-identical leaves. A (row, node) pair
//whose known bit stays clear after the reduction had no present value anywhere
//in the group, either because the owner saw NaN or because no worker owns the
//feature at all, and takes the node's default direction.
type colSplitCoordinator struct {
	owner ColumnOwner
	model *Model
	comm  Communicator
	p     *CPUPredictor
	width int
	rows  int

	treeBegin   int
	nodeOffsets []int
	decision    bitVector
	known       bitVector
}

//newCoordinator validates the worker group and binds a coordinator to one
//column-split matrix. The validation itself is collective: every worker reduces
//its declared world size, tree count and row count, and any disagreement
//surfaces as a group-size mismatch on all of them.
func (p *CPUPredictor) newCoordinator(matrix RowMatrix, model *Model) (*colSplitCoordinator, error) {
	owner, ok := matrix.(ColumnOwner)
	if !ok {
		return nil, fmt.Errorf("%w: column-split matrix does not expose column ownership", ErrUnsupportedOperation)
	}
	if p.comm == nil {
		return nil, fmt.Errorf("%w: column-split prediction requires a communicator", ErrUnsupportedOperation)
	}
	width, err := rowWidth(matrix, model)
	if err != nil {
		return nil, err
	}

	// Reduce both the maximum and the minimum so that every worker of the group
	// observes a disagreement at the same collective step and none is left
	// blocking in a later reduction.
	for _, local := range []int{p.comm.WorldSize(), model.NumTrees(), matrix.Rows()} {
		highest, err := p.comm.AllReduceMaxInt(local)
		if err != nil {
			return nil, err
		}
		lowest, err := p.comm.AllReduceMaxInt(-local)
		if err != nil {
			return nil, err
		}
		if highest != -lowest {
			return nil, fmt.Errorf("%w: values range from %d to %d across the group", ErrGroupSizeMismatch, -lowest, highest)
		}
	}

	return &colSplitCoordinator{
		owner: owner,
		model: model,
		comm:  p.comm,
		p:     p,
		width: width,
		rows:  matrix.Rows(),
	}, nil
}

//maskTrees fills the known and decision bit vectors for the trees in
//[treeBegin, treeEnd) and combines them across the group with a single OR
//reduction. The decision for a (row, node) pair depends only on the node's
//feature value, never on the traversal path, so owners can mark every node of
//every tree in one pass.
func (c *colSplitCoordinator) maskTrees(treeBegin, treeEnd int) error {
	c.treeBegin = treeBegin
	c.nodeOffsets = make([]int, treeEnd-treeBegin)
	totalNodes := 0
	for t := treeBegin; t < treeEnd; t++ {
		c.nodeOffsets[t-treeBegin] = totalNodes
		totalNodes += len(c.model.Trees[t].Nodes)
	}

	words := bitWords(totalNodes * c.rows)
	combined := make(bitVector, 2*words)
	c.decision = combined[:words]
	c.known = combined[words:]

	vec := make([]float64, c.width)
	seq := c.owner.Pages()
	for seq.HasNext() {
		page := seq.GetNext()
		for i := 0; i < page.Size(); i++ {
			page.FillRow(i, vec)
			row := page.Base() + i
			for t := treeBegin; t < treeEnd; t++ {
				base := c.nodeOffsets[t-treeBegin]
				for ind, node := range c.model.Trees[t].Nodes {
					if node.IsLeaf() || !c.owner.Owns(node.Feature) {
						continue
					}
					value := vec[node.Feature]
					if math.IsNaN(value) {
						continue
					}
					bit := (base+ind)*c.rows + row
					c.known.set(bit)
					if node.routesLeft(value) {
						c.decision.set(bit)
					}
				}
			}
		}
	}

	return c.comm.AllReduceOr(combined)
}

//nextNodeFromBits advances one traversal step using the combined bits instead of
//local feature values.
func (c *colSplitCoordinator) nextNodeFromBits(t, ind, row int) int {
	node := c.model.Trees[t].Nodes[ind]
	bit := (c.nodeOffsets[t-c.treeBegin]+ind)*c.rows + row
	if !c.known.check(bit) {
		if node.DefaultLeft {
			return node.Left
		}
		return node.Right
	}
	if c.decision.check(bit) {
		return node.Left
	}
	return node.Right
}

//evaluateFromBits walks tree t for one row using only the combined bits and
//returns the arena index of the leaf, identical on every worker of the group.
func (c *colSplitCoordinator) evaluateFromBits(t, row int) int {
	tree := c.model.Trees[t]
	ind := 0
	for !tree.Nodes[ind].IsLeaf() {
		ind = c.nextNodeFromBits(t, ind, row)
	}
	return ind
}

//predictBatch accumulates the trees [treeBegin, treeEnd) into out. The model is
//replicated on every worker, so after the reduction each worker resolves every
//leaf value itself and the outputs agree bit for bit across the group.
func (c *colSplitCoordinator) predictBatch(out *mat.Dense, treeBegin, treeEnd int) error {
	if err := c.maskTrees(treeBegin, treeEnd); err != nil {
		return err
	}
	return c.p.forEachRowBlock(c.owner, func(page Page, begin, end int) error {
		for i := begin; i < end; i++ {
			row := page.Base() + i
			for t := treeBegin; t < treeEnd; t++ {
				tree := c.model.Trees[t]
				accumulate(out, row, c.model, t, tree.LeafValue(c.evaluateFromBits(t, row)))
			}
		}
		return nil
	})
}

//predictLeaf fills the flat rows × trees leaf-index buffer from the combined bits.
func (c *colSplitCoordinator) predictLeaf(leaves []int) error {
	numTrees := c.model.NumTrees()
	if err := c.maskTrees(0, numTrees); err != nil {
		return err
	}
	return c.p.forEachRowBlock(c.owner, func(page Page, begin, end int) error {
		for i := begin; i < end; i++ {
			row := page.Base() + i
			for t := 0; t < numTrees; t++ {
				tree := c.model.Trees[t]
				leaves[row*numTrees+t] = tree.Nodes[c.evaluateFromBits(t, row)].LeafIndex
			}
		}
		return nil
	})
}
