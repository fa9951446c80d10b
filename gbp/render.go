package gbp

import (
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//categoryList unpacks the node's category bitset back into a sorted list.
func (node TreeNode) categoryList() []int {
	var categories []int
	for cat := 0; cat < len(node.Categories)*32; cat++ {
		if node.Categories[cat/32]&(1<<(uint(cat)%32)) != 0 {
			categories = append(categories, cat)
		}
	}
	return categories
}

//GraphDescription returns the description of a split node for tree rendering.
func (node TreeNode) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("id: ", node.TreeNodeId))
	if node.Categories != nil {
		sb.WriteString(fmt.Sprintf("f_%d in %v\n", node.Feature, node.categoryList()))
	} else {
		sb.WriteString(fmt.Sprintf("f_%d < %6.5f\n", node.Feature, node.Threshold))
	}
	if node.DefaultLeft {
		sb.WriteString("default: left")
	} else {
		sb.WriteString("default: right")
	}
	return sb.String()
}

//GraphDescription returns the description of a leaf node for tree rendering.
func (node LeafNode) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("id: ", node.LeafNodeId))
	sb.WriteString("[")
	for _, val := range node.Value {
		sb.WriteString(fmt.Sprintf("  %6.2f,\n", val))
	}
	sb.WriteString("]\n")
	sb.WriteString(fmt.Sprintln("cover: ", node.Cover))
	return sb.String()
}

func recurrentDraw(g *cgraph.Graph, tree OneTree, nodeNumber int, parentNode *cgraph.Node) error {
	currentNode, err := g.CreateNode(fmt.Sprint(nodeNumber))
	if err != nil {
		return err
	}

	if parentNode != nil {
		if _, err := g.CreateEdge("", parentNode, currentNode); err != nil {
			return err
		}
	}

	node := tree.Nodes[nodeNumber]
	if node.IsLeaf() {
		currentNode.Set("label", tree.Leaves[node.LeafIndex].GraphDescription())
		currentNode.Set("shape", "box")
		return nil
	}

	currentNode.Set("label", node.GraphDescription())
	if err := recurrentDraw(g, tree, node.Left, currentNode); err != nil {
		return err
	}
	return recurrentDraw(g, tree, node.Right, currentNode)
}

//DrawGraph builds a graphviz graph of one tree.
func (tree OneTree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		return nil, nil, err
	}
	if err := recurrentDraw(graph, tree, 0, nil); err != nil {
		return nil, nil, err
	}
	return graphViz, graph, nil
}

//RenderTrees renders every tree of the model into picturesDirectory, one figure
//per tree.
func (model *Model) RenderTrees(dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType, ok := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]
	if !ok {
		return fmt.Errorf("%w: figure type %q", ErrMalformedInput, figureType)
	}

	for graphInd, currentTree := range model.Trees {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		graphViz, graph, err := currentTree.DrawGraph()
		if err != nil {
			return err
		}
		if err := graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename)); err != nil {
			return err
		}
	}
	return nil
}
