package ir

// Graph algorithms over a Function's CFG. All traversals use explicit
// stacks so deeply nested input cannot exhaust the goroutine stack.

type dfsFrame struct {
	node int
	next int
}

// postOrder returns the nodes reachable from root in DFS postorder.
func postOrder(n, root int, succs func(int) []int) []int {
	visited := make([]bool, n)
	order := make([]int, 0, n)
	stack := []dfsFrame{{node: root}}
	visited[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		ss := succs(top.node)
		if top.next < len(ss) {
			s := ss[top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, dfsFrame{node: s})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// graph is a dense adjacency view of live blocks.
type graph struct {
	succs [][]int
	preds [][]int
}

func blockGraph(f *Function) *graph {
	n := len(f.blocks)
	g := &graph{succs: make([][]int, n), preds: make([][]int, n)}
	for b := 0; b < n; b++ {
		if f.blocks[b].Dead {
			continue
		}
		for _, s := range f.Succs(Block(b)) {
			if !f.HasBlock(s) {
				continue
			}
			g.succs[b] = append(g.succs[b], int(s))
			g.preds[s] = append(g.preds[s], b)
		}
	}
	return g
}

// PostOrder returns the blocks reachable from the entry in DFS postorder.
func PostOrder(f *Function) []Block {
	g := blockGraph(f)
	return toBlocks(postOrder(len(f.blocks), int(f.Entry), func(b int) []int { return g.succs[b] }))
}

// ReversePostOrder returns the reachable blocks in reverse postorder.
func ReversePostOrder(f *Function) []Block {
	po := PostOrder(f)
	for i, j := 0, len(po)-1; i < j; i, j = i+1, j-1 {
		po[i], po[j] = po[j], po[i]
	}
	return po
}

func toBlocks(ns []int) []Block {
	out := make([]Block, len(ns))
	for i, n := range ns {
		out[i] = Block(n)
	}
	return out
}

// DomTree is a dominator (or postdominator) tree.
type DomTree struct {
	idom     []int
	rpo      []int
	rpoNum   []int
	children [][]int
	pre      []int
	post     []int
	root     int
	virtual  int // node standing for the virtual exit, or -1
}

// Dominators computes the dominator tree of f's reachable blocks using the
// iterative algorithm of Cooper, Harvey and Kennedy.
func Dominators(f *Function) *DomTree {
	g := blockGraph(f)
	return newDomTree(len(f.blocks), int(f.Entry), -1,
		func(b int) []int { return g.succs[b] },
		func(b int) []int { return g.preds[b] })
}

// PostDominators computes the postdominator tree. Blocks without successors
// are joined under a virtual exit; Idom reports NoBlock for blocks whose
// immediate postdominator is that exit. Blocks that cannot reach an exit are
// not in the tree.
func PostDominators(f *Function) *DomTree {
	g := blockGraph(f)
	n := len(f.blocks)
	exit := n
	var exits []int
	for b := 0; b < n; b++ {
		if !f.blocks[b].Dead && len(g.succs[b]) == 0 {
			exits = append(exits, b)
		}
	}
	return newDomTree(n+1, exit, exit,
		func(b int) []int {
			if b == exit {
				return exits
			}
			return g.preds[b]
		},
		func(b int) []int {
			if b == exit {
				return nil
			}
			if len(g.succs[b]) == 0 {
				return []int{exit}
			}
			return g.succs[b]
		})
}

func newDomTree(n, root, virtual int, succs, preds func(int) []int) *DomTree {
	t := &DomTree{
		idom:     fill(make([]int, n), -1),
		rpoNum:   fill(make([]int, n), -1),
		children: make([][]int, n),
		pre:      make([]int, n),
		post:     make([]int, n),
		root:     root,
		virtual:  virtual,
	}
	po := postOrder(n, root, succs)
	t.rpo = make([]int, len(po))
	for i, b := range po {
		t.rpo[len(po)-1-i] = b
	}
	for i, b := range t.rpo {
		t.rpoNum[b] = i
	}

	t.idom[root] = root
	for changed := true; changed; {
		changed = false
		for _, b := range t.rpo[1:] {
			newIdom := -1
			for _, p := range preds(b) {
				if t.idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = t.intersect(p, newIdom)
				}
			}
			if newIdom != -1 && t.idom[b] != newIdom {
				t.idom[b] = newIdom
				changed = true
			}
		}
	}

	for _, b := range t.rpo[1:] {
		if d := t.idom[b]; d >= 0 {
			t.children[d] = append(t.children[d], b)
		}
	}

	clock := 0
	stack := []dfsFrame{{node: root}}
	t.pre[root] = clock
	clock++
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(t.children[top.node]) {
			c := t.children[top.node][top.next]
			top.next++
			t.pre[c] = clock
			clock++
			stack = append(stack, dfsFrame{node: c})
			continue
		}
		t.post[top.node] = clock
		clock++
		stack = stack[:len(stack)-1]
	}
	return t
}

func (t *DomTree) intersect(a, b int) int {
	for a != b {
		for t.rpoNum[a] > t.rpoNum[b] {
			a = t.idom[a]
		}
		for t.rpoNum[b] > t.rpoNum[a] {
			b = t.idom[b]
		}
	}
	return a
}

func (t *DomTree) node(b Block) int {
	if int(b) >= len(t.idom) || int(b) == t.virtual {
		return -1
	}
	return int(b)
}

// Reachable reports whether b is in the tree.
func (t *DomTree) Reachable(b Block) bool {
	n := t.node(b)
	return n >= 0 && t.rpoNum[n] >= 0
}

// Idom returns b's immediate dominator, or NoBlock for the root and for
// blocks outside the tree.
func (t *DomTree) Idom(b Block) Block {
	n := t.node(b)
	if n < 0 || n == t.root || t.idom[n] < 0 || t.idom[n] == t.virtual {
		return NoBlock
	}
	return Block(t.idom[n])
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (t *DomTree) Dominates(a, b Block) bool {
	if !t.Reachable(a) || !t.Reachable(b) {
		return false
	}
	return t.pre[a] <= t.pre[b] && t.post[b] <= t.post[a]
}

// StrictlyDominates reports whether a dominates b and a != b.
func (t *DomTree) StrictlyDominates(a, b Block) bool {
	return a != b && t.Dominates(a, b)
}

// Children returns b's children in the tree in reverse postorder. For a
// postdominator tree, Children(NoBlock) lists the children of the virtual
// exit.
func (t *DomTree) Children(b Block) []Block {
	n := t.node(b)
	if b == NoBlock && t.virtual >= 0 {
		n = t.virtual
	}
	if n < 0 {
		return nil
	}
	return toBlocks(t.children[n])
}

// RPO returns the blocks of the tree in reverse postorder of the traversed
// graph, without the virtual exit.
func (t *DomTree) RPO() []Block {
	out := make([]Block, 0, len(t.rpo))
	for _, n := range t.rpo {
		if n != t.virtual {
			out = append(out, Block(n))
		}
	}
	return out
}

// RPONumber returns b's index in reverse postorder, or -1.
func (t *DomTree) RPONumber(b Block) int {
	n := t.node(b)
	if n < 0 {
		return -1
	}
	return t.rpoNum[n]
}

// Edges returns every edge leaving a reachable block, in block then
// successor order.
func Edges(f *Function, t *DomTree) []Edge {
	var out []Edge
	for _, b := range t.RPO() {
		term := f.Terminator(b)
		if term == NoInst {
			continue
		}
		for k := range f.insts[term].Targets {
			out = append(out, Edge{From: b, Inst: term, Succ: k})
		}
	}
	return out
}

// BackEdges returns the edges whose destination dominates their source.
func BackEdges(f *Function, t *DomTree) []Edge {
	var out []Edge
	for _, e := range Edges(f, t) {
		if t.Dominates(f.Dest(e), e.From) {
			out = append(out, e)
		}
	}
	return out
}

// RetreatingEdges returns the edges that close a cycle in a depth-first
// traversal from the entry.
func RetreatingEdges(f *Function) []Edge {
	n := len(f.blocks)
	onStack := make([]bool, n)
	visited := make([]bool, n)
	var out []Edge
	stack := []dfsFrame{{node: int(f.Entry)}}
	visited[f.Entry] = true
	onStack[f.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		b := Block(top.node)
		term := f.Terminator(b)
		var targets []BlockTarget
		if term != NoInst {
			targets = f.insts[term].Targets
		}
		if top.next < len(targets) {
			k := top.next
			top.next++
			s := targets[k].Block
			if !f.HasBlock(s) {
				continue
			}
			if onStack[s] {
				out = append(out, Edge{From: b, Inst: term, Succ: k})
			} else if !visited[s] {
				visited[s] = true
				onStack[s] = true
				stack = append(stack, dfsFrame{node: int(s)})
			}
			continue
		}
		onStack[top.node] = false
		stack = stack[:len(stack)-1]
	}
	return out
}

// IsReducible reports whether every cycle in f has a single entry, that
// is, every retreating edge is a back edge.
func IsReducible(f *Function) bool {
	t := Dominators(f)
	for _, e := range RetreatingEdges(f) {
		if !t.Dominates(f.Dest(e), e.From) {
			return false
		}
	}
	return true
}
