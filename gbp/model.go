package gbp

import (
	"encoding/json"
	"fmt"
	"os"
)

//TreeNode is a node of a prediction tree. A tree is stored in an array with the root
//at index 0. Left and Right contain array indices of children and are equal to -1
//when the current node is a leaf; a leaf node addresses the Leaves array through
//LeafIndex, which is -1 on a non-leaf node.
type TreeNode struct {
	TreeNodeId  int
	Feature     int
	Threshold   float64
	Categories  []uint32 // bitset of matching categories, nil on a numeric split
	DefaultLeft bool
	Left, Right int // -1, -1 if it is a leaf
	LeafIndex   int // -1 if it is a non-leaf tree node
	Cover       float64
}

//IsLeaf returns whether this node is a leaf.
func (node TreeNode) IsLeaf() bool {
	return node.LeafIndex != -1
}

//MatchesCategory reports whether a categorical feature value belongs to the node's
//category set. Values outside the set's range never match.
func (node TreeNode) MatchesCategory(value float64) bool {
	cat := int(value)
	if cat < 0 || cat >= len(node.Categories)*32 {
		return false
	}
	return node.Categories[cat/32]&(1<<(uint(cat)%32)) != 0
}

//NewCategorySet packs a list of category values into the bitset form stored on a
//tree node. The resulting routing depends only on set membership, never on the
//order the categories were listed in.
func NewCategorySet(categories ...int) []uint32 {
	maxCat := 0
	for _, cat := range categories {
		if cat > maxCat {
			maxCat = cat
		}
	}
	set := make([]uint32, maxCat/32+1)
	for _, cat := range categories {
		set[cat/32] |= 1 << (uint(cat) % 32)
	}
	return set
}

//LeafNode stores leaf-related information: the prediction vector of this leaf and
//the cover (the sum of sample weights routed here during training).
type LeafNode struct {
	LeafNodeId int
	Value      []float64
	Cover      float64
}

//OneTree describes one tree of an ensemble. Immutable once appended to a Model.
type OneTree struct {
	Nodes  []TreeNode
	Leaves []LeafNode
}

//maxDepth returns the depth of the subtree rooted at ind, counted in edges.
func (tree OneTree) maxDepth(ind int) int {
	node := tree.Nodes[ind]
	if node.IsLeaf() {
		return 0
	}
	left := tree.maxDepth(node.Left)
	right := tree.maxDepth(node.Right)
	if left > right {
		return left + 1
	}
	return right + 1
}

//Model is an ordered sequence of trees together with the group each tree
//contributes to and an optional base score per group. Trees are only ever
//appended; committed trees never change.
type Model struct {
	Trees       []OneTree
	Groups      []int
	NumGroups   int
	NumFeatures int
	BaseScore   []float64
}

//NumTrees returns the number of committed trees.
func (model *Model) NumTrees() int {
	return len(model.Trees)
}

//AppendTree commits one more tree to the ensemble for the given output group.
func (model *Model) AppendTree(tree OneTree, group int) {
	model.Trees = append(model.Trees, tree)
	model.Groups = append(model.Groups, group)
}

//baseScore returns the base score of a group, zero when none was configured.
func (model *Model) baseScore(group int) float64 {
	if group < len(model.BaseScore) {
		return model.BaseScore[group]
	}
	return 0
}

//validateRange normalizes a [treeBegin, treeEnd) request. treeEnd equal to zero
//means "all trees".
func (model *Model) validateRange(treeBegin, treeEnd int) (int, int, error) {
	if treeEnd == 0 {
		treeEnd = model.NumTrees()
	}
	if treeBegin < 0 || treeEnd > model.NumTrees() || treeBegin > treeEnd {
		return 0, 0, fmt.Errorf("%w: [%d, %d) with %d trees", ErrInvalidRange, treeBegin, treeEnd, model.NumTrees())
	}
	return treeBegin, treeEnd, nil
}

//Save stores the model as an indented JSON document.
func (model *Model) Save(filename string) error {
	modelByteRepr, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, modelByteRepr, 0o644)
}

//LoadModel reads a model stored by Save.
func LoadModel(filename string) (*Model, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	model := &Model{}
	if err := json.NewDecoder(source).Decode(model); err != nil {
		return nil, err
	}
	return model, nil
}
