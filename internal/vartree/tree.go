// Package vartree keeps a hierarchical view of debugger variables in sync
// with the values the backend reports incrementally.
//
// Nodes live in an arena and are addressed by NodeID. Node 0 is a synthetic
// root whose children are the top-level variables; it has no name and is
// never returned by lookups of a non-empty path.
package vartree

import (
	"strings"

	"github.com/ctagard/dbgsync/internal/qname"
	"github.com/ctagard/dbgsync/pkg/types"
)

// NodeID addresses a node in a Tree.
type NodeID int

const (
	// Root is the synthetic root node of every tree.
	Root NodeID = 0
	// NoNode is returned when a lookup fails.
	NoNode NodeID = -1
)

// Column identifies one attribute of a node as shown by a display.
type Column string

const (
	ColumnName        Column = "name"
	ColumnType        Column = "type"
	ColumnTypeCaption Column = "typeCaption"
	ColumnValue       Column = "value"
	ColumnHighlighted Column = "highlighted"
)

// Schema describes how a tree presents its nodes. It is passed to New
// instead of living in package state so that several trees can be configured
// independently.
type Schema struct {
	// Columns lists the attributes a display renders, in order.
	Columns []Column
	// HighlightChanges marks nodes whose value changed since the last stop.
	HighlightChanges bool
	// CaptionEllipsis is appended to a multi-line type truncated to its first line.
	CaptionEllipsis string
}

// DefaultSchema returns the schema used by sessions.
func DefaultSchema() Schema {
	return Schema{
		Columns:          []Column{ColumnName, ColumnValue, ColumnTypeCaption},
		HighlightChanges: true,
		CaptionEllipsis:  "...",
	}
}

// Node is one variable or member.
type Node struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	TypeCaption string   `json:"typeCaption,omitempty"`
	Value       string   `json:"value,omitempty"`
	Highlighted bool     `json:"highlighted,omitempty"`
	Parent      NodeID   `json:"-"`
	Children    []NodeID `json:"-"`
}

// Cell returns the display value of a column.
func (n *Node) Cell(c Column) string {
	switch c {
	case ColumnName:
		return n.Name
	case ColumnType:
		return n.Type
	case ColumnTypeCaption:
		return n.TypeCaption
	case ColumnValue:
		return n.Value
	case ColumnHighlighted:
		if n.Highlighted {
			return "true"
		}
		return "false"
	}
	return ""
}

// Tree is an arena of variable nodes. A Tree is not safe for concurrent use;
// sessions only touch it from their dispatch goroutine.
type Tree struct {
	schema Schema
	nodes  []Node
}

// New creates an empty tree holding only the synthetic root.
func New(schema Schema) *Tree {
	return &Tree{
		schema: schema,
		nodes:  []Node{{Parent: NoNode}},
	}
}

// Schema returns the schema the tree was built with.
func (t *Tree) Schema() Schema {
	return t.schema
}

// Node returns the node with the given id, or nil for an invalid id.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return &t.nodes[id]
}

// Children returns the ids of the immediate children of id.
func (t *Tree) Children(id NodeID) []NodeID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	return n.Children
}

// Len returns the number of nodes, the synthetic root excluded.
func (t *Tree) Len() int {
	return len(t.nodes) - 1
}

// Reset drops every node but the root.
func (t *Tree) Reset() {
	t.nodes = t.nodes[:1]
	t.nodes[0].Children = nil
}

// AddChild appends a child named name under parent and returns its id.
func (t *Tree) AddChild(parent NodeID, name string) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{Name: strings.TrimSpace(name), Parent: parent})
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id
}

// Locate walks name elements down from the node from. At each level the
// immediate children are scanned in order; a child matches when its name
// equals the element, and when it does not, its first child is checked too,
// which is where debuggers put the members of anonymous unions and structs.
func (t *Tree) Locate(from NodeID, elems []string) (NodeID, bool) {
	if t.Node(from) == nil {
		return NoNode, false
	}

	cur := from
	for _, elem := range elems {
		next := NoNode
		for _, child := range t.nodes[cur].Children {
			if t.nodes[child].Name == elem {
				next = child
				break
			}
			if grand := t.nodes[child].Children; len(grand) > 0 && t.nodes[grand[0]].Name == elem {
				next = grand[0]
				break
			}
		}
		if next == NoNode {
			return NoNode, false
		}
		cur = next
	}
	return cur, true
}

// LocateQName splits raw and locates the resulting path under from. When the
// name cannot be split or the path is absent, raw is tried as a single
// element, which is how flat legacy names are stored.
func (t *Tree) LocateQName(from NodeID, raw string) (NodeID, bool) {
	if elems, err := qname.Split(raw); err == nil {
		if id, ok := t.Locate(from, elems); ok {
			return id, true
		}
	}
	if raw == "" {
		return NoNode, false
	}
	return t.Locate(from, []string{raw})
}

// Path returns the name elements leading from the root to id.
func (t *Tree) Path(id NodeID) []string {
	var elems []string
	for cur := id; cur > Root; cur = t.nodes[cur].Parent {
		elems = append(elems, t.nodes[cur].Name)
	}
	for i, j := 0, len(elems)-1; i < j; i, j = i+1, j-1 {
		elems[i], elems[j] = elems[j], elems[i]
	}
	return elems
}

// QualifiedName returns the addressing path of id, e.g. "a.b->c".
func (t *Tree) QualifiedName(id NodeID) string {
	return qname.Join(t.Path(id))
}

// Snapshot is a nested, serializable copy of a subtree.
type Snapshot struct {
	Node
	QName    string     `json:"qname"`
	Children []Snapshot `json:"children,omitempty"`
}

// Snapshot returns a copy of the subtree rooted at id.
func (t *Tree) Snapshot(id NodeID) Snapshot {
	n := t.nodes[id]
	s := Snapshot{Node: n, QName: t.QualifiedName(id)}
	for _, c := range n.Children {
		s.Children = append(s.Children, t.Snapshot(c))
	}
	return s
}

// Variable converts the subtree rooted at id back into a reported variable.
func (t *Tree) Variable(id NodeID) *types.Variable {
	n := t.nodes[id]
	v := &types.Variable{Name: n.Name, Type: n.Type, Value: n.Value}
	for _, c := range n.Children {
		v.Members = append(v.Members, t.Variable(c))
	}
	return v
}
