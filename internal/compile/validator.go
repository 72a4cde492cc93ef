package compile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// ErrSyntax is returned when a unit does not parse.
var ErrSyntax = errors.New("compile: syntax error")

// Validator checks a unit before it is interpreted.
type Validator interface {
	Validate(src []byte) error
}

// SyntaxError locates the first broken node in a unit.
type SyntaxError struct {
	Row    uint32
	Column uint32
	Node   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d near %s", e.Row+1, e.Column+1, e.Node)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// TreeSitterValidator parses units with the tree-sitter Go grammar and
// rejects any tree containing ERROR or MISSING nodes.
type TreeSitterValidator struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewTreeSitterValidator creates a validator with its own parser.
func NewTreeSitterValidator() *TreeSitterValidator {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &TreeSitterValidator{parser: p}
}

// Validate parses src and reports the first syntax error.
func (v *TreeSitterValidator) Validate(src []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tree, err := v.parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	if bad := firstBroken(root); bad != nil {
		p := bad.StartPoint()
		return &SyntaxError{Row: p.Row, Column: p.Column, Node: bad.Type()}
	}
	return ErrSyntax
}

// Close releases the parser.
func (v *TreeSitterValidator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.parser.Close()
}

func firstBroken(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !child.HasError() && !child.IsMissing() {
			continue
		}
		if bad := firstBroken(child); bad != nil {
			return bad
		}
	}
	return nil
}
