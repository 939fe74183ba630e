package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noah-isme/autoenrol/internal/models"
)

// Tree operators.
const (
	OpAnd    = "&"
	OpOr     = "|"
	OpNotAnd = "!&"
	OpNotOr  = "!|"
)

// Condition is one evaluable leaf or subtree.
type Condition interface {
	Evaluate(ctx context.Context, user *models.User) (bool, error)
}

// Tree is a boolean combination of conditions. Visibility flags are kept for
// round trips but never affect the result.
type Tree struct {
	Op       string
	Children []Condition
	Show     []bool

	root bool
}

type rawNode struct {
	Op    string            `json:"op"`
	C     []json.RawMessage `json:"c"`
	Show  *bool             `json:"show,omitempty"`
	Showc []bool            `json:"showc,omitempty"`
	Type  string            `json:"type"`
}

// ParseTree decodes a structured predicate, resolving leaf types through registry.
func ParseTree(raw json.RawMessage, registry *Registry) (*Tree, error) {
	tree, err := parseNode(raw, registry)
	if err != nil {
		return nil, err
	}
	tree.root = true
	return tree, nil
}

func parseNode(raw json.RawMessage, registry *Registry) (*Tree, error) {
	var node rawNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	op := node.Op
	if op == "" {
		op = OpAnd
	}
	switch op {
	case OpAnd, OpOr, OpNotAnd, OpNotOr:
	default:
		return nil, fmt.Errorf("unknown tree operator %q", node.Op)
	}

	tree := &Tree{Op: op, Show: node.Showc}
	for i, child := range node.C {
		var head rawNode
		if err := json.Unmarshal(child, &head); err != nil {
			return nil, fmt.Errorf("decode condition %d: %w", i, err)
		}
		if head.Type == "" && (head.Op != "" || head.C != nil) {
			sub, err := parseNode(child, registry)
			if err != nil {
				return nil, err
			}
			tree.Children = append(tree.Children, sub)
			continue
		}
		cond, err := registry.Build(head.Type, child)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		tree.Children = append(tree.Children, cond)
	}
	return tree, nil
}

// Matches evaluates the tree as a rule. An empty root tree matches everyone.
func (t *Tree) Matches(ctx context.Context, user *models.User) (bool, error) {
	if t.root && len(t.Children) == 0 {
		return true, nil
	}
	return t.Evaluate(ctx, user)
}

// Evaluate combines children per the operator, short circuiting.
func (t *Tree) Evaluate(ctx context.Context, user *models.User) (bool, error) {
	and := t.Op == OpAnd || t.Op == OpNotAnd
	result := and
	for _, child := range t.Children {
		ok, err := child.Evaluate(ctx, user)
		if err != nil {
			return false, err
		}
		if and && !ok {
			result = false
			break
		}
		if !and && ok {
			result = true
			break
		}
	}
	if t.Op == OpNotAnd || t.Op == OpNotOr {
		return !result, nil
	}
	return result, nil
}
