package protocol

import (
	"encoding/json"
	"fmt"
)

// LayoutNode is the tagged layout tree accepted by layout.set. The daemon
// validates the shape, then stores the raw JSON opaquely on the session.
type LayoutNode struct {
	Type      string       `json:"type"`
	PaneID    string       `json:"pane_id,omitempty"`
	Direction string       `json:"direction,omitempty"`
	Ratio     float64      `json:"ratio,omitempty"`
	Children  []LayoutNode `json:"children,omitempty"`
}

// PaneIDs returns every pane id referenced by the tree, depth-first.
func (n *LayoutNode) PaneIDs() []string {
	var ids []string
	n.walk(&ids)
	return ids
}

func (n *LayoutNode) walk(ids *[]string) {
	if n.Type == "pane" {
		*ids = append(*ids, n.PaneID)
		return
	}
	for i := range n.Children {
		n.Children[i].walk(ids)
	}
}

// ValidateLayout parses raw as a layout tree and checks its shape: pane
// nodes carry a pane_id, split nodes carry a valid direction, a ratio in
// (0,1], and at least one child.
func ValidateLayout(raw json.RawMessage) (*LayoutNode, error) {
	var node LayoutNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	if err := node.validate(); err != nil {
		return nil, err
	}
	return &node, nil
}

func (n *LayoutNode) validate() error {
	switch n.Type {
	case "pane":
		if n.PaneID == "" {
			return fmt.Errorf("layout: pane node missing pane_id")
		}
	case "split":
		if n.Direction != "horizontal" && n.Direction != "vertical" {
			return fmt.Errorf("layout: split direction %q is not horizontal or vertical", n.Direction)
		}
		if n.Ratio <= 0 || n.Ratio > 1 {
			return fmt.Errorf("layout: split ratio %v out of (0,1]", n.Ratio)
		}
		if len(n.Children) == 0 {
			return fmt.Errorf("layout: split node has no children")
		}
		for i := range n.Children {
			if err := n.Children[i].validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("layout: unknown node type %q", n.Type)
	}
	return nil
}
