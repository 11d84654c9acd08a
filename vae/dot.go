package vae

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

// Dot renders the expression graph of the net as a DOT document, labelled with the objective it computes.
// Inputs and learnables are drawn as boxes, operations as ellipses. Edges point from an operation to its operands.
func (n *Net) Dot() (string, error) {
	if n.g == nil {
		return "", errors.New("net has not been initialized")
	}
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.WithStack(err)
	}
	if err := g.SetDir(true); err != nil {
		return "", errors.WithStack(err)
	}

	label := fmt.Sprintf("%v, K=%d, %d stochastic layers", n.Obj.Mode, n.obj.Samples, n.Layers)
	if n.Obj.Mode.UsesAlpha() {
		label = fmt.Sprintf("%v α=%v, K=%d, %d stochastic layers", n.Obj.Mode, n.Obj.Alpha, n.obj.Samples, n.Layers)
	}
	if err := g.AddAttr("G", "label", fmt.Sprintf("%q", label)); err != nil {
		return "", errors.WithStack(err)
	}
	if err := g.AddAttr("G", "labelloc", "t"); err != nil {
		return "", errors.WithStack(err)
	}

	for _, node := range n.g.AllNodes() {
		attrs := map[string]string{
			"fontname": "Monaco",
			"label":    fmt.Sprintf("%q", fmt.Sprintf("%s\n%v", node.Name(), node.Shape())),
			"shape":    "ellipse",
		}
		if node.Op() == nil {
			attrs["shape"] = "box"
		}
		if err := g.AddNode("G", dotID(node.ID()), attrs); err != nil {
			return "", errors.Wrapf(err, "adding %v", node)
		}
	}
	for _, node := range n.g.AllNodes() {
		children := n.g.From(node.ID())
		for children.Next() {
			if err := g.AddEdge(dotID(node.ID()), dotID(children.Node().ID()), true, nil); err != nil {
				return "", errors.Wrapf(err, "adding the operands of %v", node)
			}
		}
	}
	return g.String(), nil
}

func dotID(id int64) string { return fmt.Sprintf("n%d", id) }
