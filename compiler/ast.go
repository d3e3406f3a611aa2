package compiler

import "fmt"

// ---------------------------------------------------------------------------
// AST: an arena of nodes addressed by NodeID
// ---------------------------------------------------------------------------

// NodeID indexes a node in a Tree.
type NodeID int32

// NoNode is the null NodeID.
const NoNode NodeID = -1

// NodeKind is the closed set of node variants. Every pass switches over it
// and treats an unhandled kind as an internal error.
type NodeKind uint8

const (
	KindProgram        NodeKind = iota // children: declarations
	KindImport                         // Tok: file string; children: imported declarations
	KindModule                         // Tok: name; children: declarations
	KindAttribute                      // Tok: name; children: string literals
	KindEnum                           // Tok: name; children: enum values
	KindEnumValue                      // Tok: name; children: [value expression]
	KindTypeDecl                       // Tok: name; children: member variable declarations
	KindVarDecl                        // Tok: name; children: type ref, dims list, [initializer]
	KindFuncDecl                       // Tok: name; children: results list, params list, [body]
	KindTypeRef                        // Tok: first token; Text: qualified type name
	KindBlock                          // children: statements
	KindIf                             // children: cond, block, {cond, block}, [else block]
	KindWhile                          // children: cond, block
	KindFor                            // Tok: loop variable; children: range list, block
	KindReturn                         // children: values
	KindAssign                         // children: targets list, values list
	KindCompoundAssign                 // Tok: operator; children: target, value
	KindExprStmt                       // children: call
	KindBinary                         // Tok: operator; children: lhs, rhs
	KindUnary                          // Tok: operator; children: operand
	KindCall                           // children: callee, args list
	KindIndex                          // children: base, index
	KindMember                         // Tok: member name; children: base
	KindIdent                          // Tok: name; Text: qualified name once resolved
	KindLiteral                        // Tok: literal
	KindConvert                        // Tok: target type keyword; children: operand
	KindList                           // children: items
	numNodeKinds
)

var nodeKindNames = [...]string{
	KindProgram:        "Program",
	KindImport:         "Import",
	KindModule:         "Module",
	KindAttribute:      "Attribute",
	KindEnum:           "Enum",
	KindEnumValue:      "EnumValue",
	KindTypeDecl:       "TypeDecl",
	KindVarDecl:        "VarDecl",
	KindFuncDecl:       "FuncDecl",
	KindTypeRef:        "TypeRef",
	KindBlock:          "Block",
	KindIf:             "If",
	KindWhile:          "While",
	KindFor:            "For",
	KindReturn:         "Return",
	KindAssign:         "Assign",
	KindCompoundAssign: "CompoundAssign",
	KindExprStmt:       "ExprStmt",
	KindBinary:         "Binary",
	KindUnary:          "Unary",
	KindCall:           "Call",
	KindIndex:          "Index",
	KindMember:         "Member",
	KindIdent:          "Ident",
	KindLiteral:        "Literal",
	KindConvert:        "Convert",
	KindList:           "List",
}

func (k NodeKind) String() string {
	if k < numNodeKinds {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", k)
}

// NodeFlags carries declaration modifiers and analysis marks.
type NodeFlags uint16

const (
	FlagConst   NodeFlags = 1 << iota // const modifier
	FlagImport                        // import modifier
	FlagExport                        // export modifier
	FlagPartial                       // array value with dimensions left unindexed
	FlagRange                         // for-range written with ".."
)

// Modifiers returns the declaration modifier subset.
func (f NodeFlags) Modifiers() NodeFlags {
	return f & (FlagConst | FlagImport | FlagExport)
}

func (f NodeFlags) String() string {
	s := ""
	if f&FlagImport != 0 {
		s += "import "
	}
	if f&FlagExport != 0 {
		s += "export "
	}
	if f&FlagConst != 0 {
		s += "const "
	}
	return s
}

// Node is one AST node. Parent, Symbol and Type are back-references; the
// tree owns nodes strictly top-down through Children.
type Node struct {
	Kind     NodeKind
	Tok      Token
	Text     string
	Flags    NodeFlags
	Children []NodeID
	Parent   NodeID

	Type   *Type
	Symbol SymbolID
	Const  *Value
}

// Child returns child i, or NoNode when absent.
func (n *Node) Child(i int) NodeID {
	if i < len(n.Children) {
		return n.Children[i]
	}
	return NoNode
}

// Pos returns the node's source position.
func (n *Node) Pos() Position {
	return n.Tok.Pos
}

// Tree is the node arena. A *Node obtained from Node is only valid until
// the next call to New or truncate; hold NodeIDs instead.
type Tree struct {
	nodes []Node
	Root  NodeID
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{Root: NoNode}
}

// New appends a node and returns its id.
func (t *Tree) New(kind NodeKind, tok Token, children ...NodeID) NodeID {
	t.nodes = append(t.nodes, Node{
		Kind:     kind,
		Tok:      tok,
		Children: children,
		Parent:   NoNode,
		Symbol:   NoSymbol,
	})
	return NodeID(len(t.nodes) - 1)
}

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(&InternalError{Msg: fmt.Sprintf("node id %d out of range", id)})
	}
	return &t.nodes[id]
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// truncate drops every node allocated after a parser mark.
func (t *Tree) truncate(n int) {
	t.nodes = t.nodes[:n]
}

// Kind is a shorthand for Node(id).Kind.
func (t *Tree) Kind(id NodeID) NodeKind { return t.Node(id).Kind }

// Children returns the children of id.
func (t *Tree) Children(id NodeID) []NodeID { return t.Node(id).Children }

// Child returns child i of id.
func (t *Tree) Child(id NodeID, i int) NodeID { return t.Node(id).Child(i) }

// AddChild appends child to parent.
func (t *Tree) AddChild(parent, child NodeID) {
	p := t.Node(parent)
	p.Children = append(p.Children, child)
}

// LinkParents fills in every Parent back-reference below the root.
func (t *Tree) LinkParents() {
	if t.Root == NoNode {
		return
	}
	var link func(id NodeID)
	link = func(id NodeID) {
		for _, c := range t.Node(id).Children {
			t.Node(c).Parent = id
			link(c)
		}
	}
	t.Node(t.Root).Parent = NoNode
	link(t.Root)
}

// Walk calls f for id and its descendants in pre-order. Returning false
// from f skips the node's children.
func (t *Tree) Walk(id NodeID, f func(NodeID) bool) {
	if id == NoNode || !f(id) {
		return
	}
	for _, c := range t.Node(id).Children {
		t.Walk(c, f)
	}
}

// InternalError reports a compiler bug: an AST shape a pass does not
// recognise or two passes disagreeing about scopes. It is raised with
// panic and never recovered inside the compiler.
type InternalError struct {
	Msg  string
	Node NodeID
	Pos  Position
}

func (e *InternalError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("compiler: internal error at %s: %s", e.Pos, e.Msg)
	}
	return "compiler: internal error: " + e.Msg
}

// internalAt panics with an InternalError for a node.
func (t *Tree) internalAt(id NodeID, format string, args ...interface{}) {
	e := &InternalError{Msg: fmt.Sprintf(format, args...), Node: id}
	if id >= 0 && int(id) < len(t.nodes) {
		n := &t.nodes[id]
		e.Pos = n.Tok.Pos
		e.Msg = fmt.Sprintf("%s (%s node %d)", e.Msg, n.Kind, id)
	}
	panic(e)
}

// unhandled panics for a node kind a pass does not support.
func (t *Tree) unhandled(pass string, id NodeID) {
	t.internalAt(id, "%s: unhandled node kind %s", pass, t.Kind(id))
}
