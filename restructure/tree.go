package restructure

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-ir/ir"
)

// Node is one element of a region tree.
type Node interface {
	node()
}

// Seq is an ordered list of nodes.
type Seq []Node

// Tree is the structured form of a function. All regions are void typed;
// values cross region boundaries through block params only.
type Tree struct {
	Body Seq
	// Dispatches counts the dispatch blocks added for irreducible loops.
	Dispatches int
}

// Code stands for the non-terminator instructions of Block.
type Code struct {
	Block ir.Block
}

// BlockRegion is a wasm block. Branches to it continue at Follow, whose
// code is placed right after the region.
type BlockRegion struct {
	Body   Seq
	Follow ir.Block
}

// LoopRegion is a wasm loop headed by Header.
type LoopRegion struct {
	Body   Seq
	Header ir.Block
}

// IfRegion is a two-way branch on Cond, taken from the br_if Inst.
type IfRegion struct {
	Then Seq
	Else Seq
	Cond ir.Value
	Inst ir.Inst
}

// BrTable is a multi-way branch. Table maps every table entry, default
// last, to an arm; each arm is entered by branching out of its own block.
type BrTable struct {
	Table []int
	Arms  []Seq
	Index ir.Value
	Inst  ir.Inst
}

// Moves copies the args of Edge into its destination's params.
type Moves struct {
	Edge ir.Edge
}

// Br branches out of Depth enclosing regions to reach Target.
type Br struct {
	Depth  int
	Target ir.Block
}

// Return, ReturnCall and Unreachable translate the matching terminators.
type (
	Return      struct{ Inst ir.Inst }
	ReturnCall  struct{ Inst ir.Inst }
	Unreachable struct{ Inst ir.Inst }
)

func (*Code) node()        {}
func (*BlockRegion) node() {}
func (*LoopRegion) node()  {}
func (*IfRegion) node()    {}
func (*BrTable) node()     {}
func (*Moves) node()       {}
func (*Br) node()          {}
func (*Return) node()      {}
func (*ReturnCall) node()  {}
func (*Unreachable) node() {}

// Format renders the tree one node per line.
func (t *Tree) Format() string {
	type item struct {
		n      Node
		text   string
		indent int
	}
	var sb strings.Builder
	stack := make([]item, 0, len(t.Body))
	pushSeq := func(s Seq, indent int) {
		for k := len(s) - 1; k >= 0; k-- {
			stack = append(stack, item{n: s[k], indent: indent})
		}
	}
	pushSeq(t.Body, 0)
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pad := strings.Repeat("  ", it.indent)
		if it.n == nil {
			fmt.Fprintf(&sb, "%s%s\n", pad, it.text)
			continue
		}
		switch n := it.n.(type) {
		case *Code:
			fmt.Fprintf(&sb, "%scode %s\n", pad, n.Block)
		case *BlockRegion:
			fmt.Fprintf(&sb, "%sblock ; -> %s\n", pad, n.Follow)
			stack = append(stack, item{text: "end", indent: it.indent})
			pushSeq(n.Body, it.indent+1)
		case *LoopRegion:
			fmt.Fprintf(&sb, "%sloop ; %s\n", pad, n.Header)
			stack = append(stack, item{text: "end", indent: it.indent})
			pushSeq(n.Body, it.indent+1)
		case *IfRegion:
			fmt.Fprintf(&sb, "%sif %s\n", pad, n.Cond)
			stack = append(stack, item{text: "end", indent: it.indent})
			pushSeq(n.Else, it.indent+1)
			stack = append(stack, item{text: "else", indent: it.indent})
			pushSeq(n.Then, it.indent+1)
		case *BrTable:
			fmt.Fprintf(&sb, "%sbr_table %s %v\n", pad, n.Index, n.Table)
			for a := len(n.Arms) - 1; a >= 0; a-- {
				pushSeq(n.Arms[a], it.indent+1)
				stack = append(stack, item{text: fmt.Sprintf("arm %d", a), indent: it.indent})
			}
		case *Moves:
			fmt.Fprintf(&sb, "%smoves %s -> #%d\n", pad, n.Edge.From, n.Edge.Succ)
		case *Br:
			fmt.Fprintf(&sb, "%sbr %d ; %s\n", pad, n.Depth, n.Target)
		case *Return:
			fmt.Fprintf(&sb, "%sreturn\n", pad)
		case *ReturnCall:
			fmt.Fprintf(&sb, "%sreturn_call\n", pad)
		case *Unreachable:
			fmt.Fprintf(&sb, "%sunreachable\n", pad)
		}
	}
	return sb.String()
}
