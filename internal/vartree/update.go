package vartree

import (
	"context"
	"strings"

	"go.uber.org/multierr"

	"github.com/ctagard/dbgsync/pkg/types"
)

// TypeRequester asks the backend for the type of a variable. The answer
// arrives later as an event and is applied with SetType.
type TypeRequester interface {
	PrintVariableType(ctx context.Context, qname string) error
}

// IsPointerType reports whether a type spelled by the debugger is a pointer,
// e.g. "char *" or "struct node * const".
func IsPointerType(t string) bool {
	t = strings.TrimSpace(t)
	if t == "" {
		return false
	}
	return strings.HasSuffix(t, "*") || strings.HasSuffix(t, "* const")
}

// SetType stores the full type of id and a caption limited to its first
// line, followed by the schema's ellipsis when the type spans more lines.
func (t *Tree) SetType(id NodeID, typ string) {
	n := t.Node(id)
	if n == nil || id == Root {
		return
	}
	n.Type = typ
	n.TypeCaption = typ
	if i := strings.IndexByte(typ, '\n'); i >= 0 && strings.TrimSpace(typ[i:]) != "" {
		n.TypeCaption = typ[:i] + t.schema.CaptionEllipsis
	}
}

// Append adds v and its members under parent and requests the type of every
// appended node. The first request failure does not stop the append; all
// failures are returned together.
func (t *Tree) Append(ctx context.Context, parent NodeID, v *types.Variable, req TypeRequester) (NodeID, error) {
	if v == nil || t.Node(parent) == nil {
		return NoNode, nil
	}

	id := t.AddChild(parent, v.Name)
	t.nodes[id].Value = v.Value
	if v.Type != "" {
		t.SetType(id, v.Type)
	}

	var err error
	if req != nil {
		err = req.PrintVariableType(ctx, t.QualifiedName(id))
	}
	for _, m := range v.Members {
		_, merr := t.Append(ctx, id, m, req)
		err = multierr.Append(err, merr)
	}
	return id, err
}

// Update refreshes id from v and walks v's members into the subtree. A node
// is highlighted when its value changed and newFrame is false; moving to a
// new frame clears every highlight it touches. Members that have no node yet
// are appended.
func (t *Tree) Update(ctx context.Context, id NodeID, v *types.Variable, newFrame bool, req TypeRequester) error {
	n := t.Node(id)
	if n == nil || v == nil {
		return nil
	}

	n.Name = strings.TrimSpace(v.Name)
	n.Highlighted = t.schema.HighlightChanges && !newFrame && n.Value != v.Value
	n.Value = v.Value
	if v.Type != "" {
		t.SetType(id, v.Type)
	}

	var err error
	for _, m := range v.Members {
		if m == nil {
			continue
		}
		child, ok := t.LocateQName(id, m.Name)
		if !ok {
			_, aerr := t.Append(ctx, id, m, req)
			err = multierr.Append(err, aerr)
			continue
		}
		err = multierr.Append(err, t.Update(ctx, child, m, newFrame, req))
	}
	return err
}

// Upsert updates the top-level variable named v.Name, or appends it under
// the root when the tree does not hold it yet.
func (t *Tree) Upsert(ctx context.Context, v *types.Variable, newFrame bool, req TypeRequester) (NodeID, error) {
	if v == nil {
		return NoNode, nil
	}
	for _, c := range t.nodes[Root].Children {
		if t.nodes[c].Name == strings.TrimSpace(v.Name) {
			return c, t.Update(ctx, c, v, newFrame, req)
		}
	}
	return t.Append(ctx, Root, v, req)
}
