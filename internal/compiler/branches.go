package compiler

import (
	"sort"

	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/ir"
)

// SwitchInstruction is the placeholder the method compiler emits for a
// table or lookup switch. It pops the already-normalized selector; branch
// structuring replaces it with nested blocks and a br_table, so reaching
// Render is an internal consistency failure.
type SwitchInstruction struct {
	codePos int
	line    int

	// CaseTargets are the absolute jump targets in selector order.
	CaseTargets   []int
	DefaultTarget int
}

func NewSwitch(caseTargets []int, defaultTarget, codePos, line int) *SwitchInstruction {
	return &SwitchInstruction{codePos, line, caseTargets, defaultTarget}
}

func (i *SwitchInstruction) PopCount() int         { return 1 }
func (i *SwitchInstruction) PushType() ir.ValueType { return ir.NoType }
func (i *SwitchInstruction) CodePos() int          { return i.codePos }
func (i *SwitchInstruction) Line() int             { return i.line }

func (i *SwitchInstruction) Render(w ir.ModuleWriter) error {
	return diagnostics.NewError(diagnostics.ErrC004,
		"switch placeholder at position %d survived branch structuring", i.codePos)
}

type nodeKind int

const (
	nodeBlock nodeKind = iota
	nodeLoop
	nodeIf
	nodeIfElse
)

// branchNode is one structured control region over source code positions
// [start, end). Regions must nest; a crossing pair is unstructured flow.
type branchNode struct {
	kind      nodeKind
	start     int
	end       int
	elseStart int // nodeIfElse only

	openIdx  int
	closeIdx int
}

type jumpRole int

const (
	roleOpenIf jumpRole = iota
	roleElse
	roleBr
	roleBrIf
	roleBrTable
)

type jumpPlan struct {
	role jumpRole
	node *branchNode

	// switch resolution, roleBrTable only
	caseNodes   []*branchNode
	defaultNode *branchNode
}

// BranchManager turns the flat jump placeholders of a built method into
// structured block instructions: loops from backward jumps, if/else from
// forward conditional jumps, break blocks for the gotos that remain and
// br_table cascades for switches.
type BranchManager struct {
	nodes []*branchNode
	plans map[int]*jumpPlan
}

func NewBranchManager() *BranchManager {
	return &BranchManager{}
}

// Structure rewrites the instruction list so that no JumpInstruction or
// SwitchInstruction survives. The input list is not modified; relational
// instructions may be replaced by their negation where a conditional jump
// becomes an if block.
func (bm *BranchManager) Structure(instrs []ir.Instruction) ([]ir.Instruction, error) {
	bm.nodes = bm.nodes[:0]
	bm.plans = make(map[int]*jumpPlan)

	bm.collectLoops(instrs)
	bm.collectSwitches(instrs)
	if err := bm.collectConditionals(instrs); err != nil {
		return nil, err
	}
	bm.collectBreaks(instrs)

	if err := bm.checkNesting(); err != nil {
		return nil, err
	}
	bm.resolveIndices(instrs)

	return bm.emit(instrs)
}

// collectLoops creates one loop node per distinct backward-jump target.
// Several jumps to the same header share the node; the region extends to
// the last of them.
func (bm *BranchManager) collectLoops(instrs []ir.Instruction) {
	byStart := make(map[int]*branchNode)
	for i, instr := range instrs {
		j, ok := instr.(*ir.JumpInstruction)
		if !ok || j.IsForward() {
			continue
		}
		end := j.CodePos() + 1
		n := byStart[j.Target]
		if n == nil {
			n = &branchNode{kind: nodeLoop, start: j.Target, end: end}
			byStart[j.Target] = n
			bm.nodes = append(bm.nodes, n)
		} else if end > n.end {
			n.end = end
		}
		role := roleBr
		if j.Conditional {
			role = roleBrIf
		}
		bm.plans[i] = &jumpPlan{role: role, node: n}
	}
}

// collectSwitches creates the nested break blocks every selector target
// branches out of. All blocks share the switch position as start, so the
// smallest target is the innermost block.
func (bm *BranchManager) collectSwitches(instrs []ir.Instruction) {
	for i, instr := range instrs {
		sw, ok := instr.(*SwitchInstruction)
		if !ok {
			continue
		}
		byEnd := make(map[int]*branchNode)
		node := func(target int) *branchNode {
			n := byEnd[target]
			if n == nil {
				n = &branchNode{kind: nodeBlock, start: sw.CodePos(), end: target}
				byEnd[target] = n
				bm.nodes = append(bm.nodes, n)
			}
			return n
		}
		plan := &jumpPlan{role: roleBrTable, defaultNode: node(sw.DefaultTarget)}
		for _, t := range sw.CaseTargets {
			plan.caseNodes = append(plan.caseNodes, node(t))
		}
		bm.plans[i] = plan
	}
}

// collectConditionals handles the forward conditional jumps in position
// order. The default shape is an if block over the fall-through range (the
// condition is negated at emission); a trailing goto past the range turns
// it into if/else; a jump whose range would cross an existing region
// becomes a br_if out of a break block instead.
func (bm *BranchManager) collectConditionals(instrs []ir.Instruction) error {
	for i, instr := range instrs {
		j, ok := instr.(*ir.JumpInstruction)
		if !ok || !j.Conditional || !j.IsForward() || bm.plans[i] != nil {
			continue
		}
		s, t := j.CodePos(), j.Target

		if bm.crosses(s, t) {
			bm.plans[i] = &jumpPlan{role: roleBrIf, node: bm.breakBlock(s, t)}
			continue
		}

		// if/else: the last instruction of the fall-through range is an
		// unconsumed forward goto leaving it
		if k := lastIndexBefore(instrs, i, t); k >= 0 && bm.plans[k] == nil {
			if g, ok := instrs[k].(*ir.JumpInstruction); ok && !g.Conditional &&
				g.Target > t && !bm.crosses(s, g.Target) {
				n := &branchNode{kind: nodeIfElse, start: s, end: g.Target, elseStart: t}
				bm.nodes = append(bm.nodes, n)
				bm.plans[i] = &jumpPlan{role: roleOpenIf, node: n}
				bm.plans[k] = &jumpPlan{role: roleElse, node: n}
				continue
			}
		}

		n := &branchNode{kind: nodeIf, start: s, end: t}
		bm.nodes = append(bm.nodes, n)
		bm.plans[i] = &jumpPlan{role: roleOpenIf, node: n}
	}
	return nil
}

// collectBreaks turns every remaining forward goto into a br out of a
// break block ending at its target.
func (bm *BranchManager) collectBreaks(instrs []ir.Instruction) {
	for i, instr := range instrs {
		j, ok := instr.(*ir.JumpInstruction)
		if !ok || bm.plans[i] != nil {
			continue
		}
		bm.plans[i] = &jumpPlan{role: roleBr, node: bm.breakBlock(j.CodePos(), j.Target)}
	}
}

// lastIndexBefore finds the last instruction after from whose position is
// still below limit.
func lastIndexBefore(instrs []ir.Instruction, from, limit int) int {
	last := -1
	for k := from + 1; k < len(instrs) && instrs[k].CodePos() < limit; k++ {
		last = k
	}
	return last
}

// crosses reports whether a region [s, t) would overlap an existing node
// without nesting.
func (bm *BranchManager) crosses(s, t int) bool {
	for _, n := range bm.nodes {
		if n.start < s && s < n.end && n.end < t {
			return true
		}
		if s < n.start && n.start < t && t < n.end {
			return true
		}
	}
	return false
}

// breakBlock finds or creates a block ending exactly at target that the
// jump can branch out of. The start is widened leftward until the block
// nests with every region it overlaps.
func (bm *BranchManager) breakBlock(jumpPos, target int) *branchNode {
	s := jumpPos
	for changed := true; changed; {
		changed = false
		for _, n := range bm.nodes {
			if n.start < s && s < n.end && n.end < target {
				s = n.start
				changed = true
			}
		}
	}
	for _, n := range bm.nodes {
		if n.kind == nodeBlock && n.start == s && n.end == target {
			return n
		}
	}
	n := &branchNode{kind: nodeBlock, start: s, end: target}
	bm.nodes = append(bm.nodes, n)
	return n
}

// checkNesting rejects region pairs that cross. Such flow cannot be
// expressed with structured blocks.
func (bm *BranchManager) checkNesting() error {
	for i, a := range bm.nodes {
		for _, b := range bm.nodes[i+1:] {
			if (a.start < b.start && b.start < a.end && a.end < b.end) ||
				(b.start < a.start && a.start < b.end && b.end < a.end) {
				return diagnostics.NewError(diagnostics.ErrC002,
					"unstructured control flow between positions %d and %d", a.start, b.start)
			}
		}
	}
	return nil
}

// resolveIndices maps every region's position boundaries onto instruction
// list indices. If regions open at their jump instruction; everything else
// opens before the first instruction of its start position.
func (bm *BranchManager) resolveIndices(instrs []ir.Instruction) {
	idxOf := func(pos int) int {
		for i, instr := range instrs {
			if instr.CodePos() >= pos {
				return i
			}
		}
		return len(instrs)
	}
	for _, n := range bm.nodes {
		n.closeIdx = idxOf(n.end)
		if n.kind == nodeIf || n.kind == nodeIfElse {
			continue // openIdx is the jump, set during emission planning
		}
		n.openIdx = idxOf(n.start)
	}
	for i, plan := range bm.plans {
		if plan.role == roleOpenIf {
			plan.node.openIdx = i
		}
	}
}

func kindPriority(k nodeKind) int {
	if k == nodeBlock {
		return 0
	}
	return 1 // loops open inside a break block sharing their range
}

func (bm *BranchManager) emit(instrs []ir.Instruction) ([]ir.Instruction, error) {
	opensAt := make(map[int][]*branchNode)
	closeCount := make(map[int]int)
	for _, n := range bm.nodes {
		if n.kind == nodeBlock || n.kind == nodeLoop {
			opensAt[n.openIdx] = append(opensAt[n.openIdx], n)
		}
		closeCount[n.closeIdx]++
	}
	for _, list := range opensAt {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].closeIdx != list[j].closeIdx {
				return list[i].closeIdx > list[j].closeIdx // outer first
			}
			return kindPriority(list[i].kind) < kindPriority(list[j].kind)
		})
	}

	out := make([]ir.Instruction, 0, len(instrs)+2*len(bm.nodes))
	var open []*branchNode

	depthOf := func(n *branchNode) int {
		for d, i := 0, len(open)-1; i >= 0; i, d = i-1, d+1 {
			if open[i] == n {
				return d
			}
		}
		return -1
	}

	for i := 0; i <= len(instrs); i++ {
		popped := 0
		for len(open) > 0 && open[len(open)-1].closeIdx == i {
			n := open[len(open)-1]
			open = open[:len(open)-1]
			out = append(out, ir.NewBlock(ir.BlockOpEnd, nil, n.end, 0))
			popped++
		}
		if popped != closeCount[i] {
			return nil, diagnostics.NewError(diagnostics.ErrC004,
				"control region close out of order at instruction %d", i)
		}
		if i == len(instrs) {
			break
		}
		for _, n := range opensAt[i] {
			op := ir.BlockOpBlock
			if n.kind == nodeLoop {
				op = ir.BlockOpLoop
			}
			out = append(out, ir.NewBlock(op, nil, n.start, 0))
			open = append(open, n)
		}

		instr := instrs[i]
		plan := bm.plans[i]
		if plan == nil {
			out = append(out, instr)
			continue
		}
		switch plan.role {
		case roleOpenIf:
			out = negateCondition(out, instr.CodePos(), instr.Line())
			out = append(out, ir.NewBlock(ir.BlockOpIf, nil, instr.CodePos(), instr.Line()))
			open = append(open, plan.node)
		case roleElse:
			out = append(out, ir.NewBlock(ir.BlockOpElse, nil, instr.CodePos(), instr.Line()))
		case roleBr, roleBrIf:
			d := depthOf(plan.node)
			if d < 0 {
				return nil, diagnostics.NewError(diagnostics.ErrC004,
					"branch at position %d targets a region that is not open", instr.CodePos())
			}
			op := ir.BlockOpBr
			if plan.role == roleBrIf {
				op = ir.BlockOpBrIf
			}
			out = append(out, ir.NewBlock(op, d, instr.CodePos(), instr.Line()))
		case roleBrTable:
			data := ir.BrTableData{Default: depthOf(plan.defaultNode)}
			for _, n := range plan.caseNodes {
				data.Targets = append(data.Targets, depthOf(n))
			}
			if data.Default < 0 {
				return nil, diagnostics.NewError(diagnostics.ErrC004,
					"switch at position %d targets a region that is not open", instr.CodePos())
			}
			out = append(out, ir.NewBlock(ir.BlockOpBrTable, data, instr.CodePos(), instr.Line()))
		}
	}
	return out, nil
}

// negateCondition flips the relational instruction that fed the jump at
// codePos, or appends an explicit compare with zero when the condition was
// produced elsewhere (e.g. a boolean-returning call).
func negateCondition(out []ir.Instruction, codePos, line int) []ir.Instruction {
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].CodePos() != codePos {
			break
		}
		if num, ok := out[i].(*ir.NumericInstruction); ok && num.Op.IsRelational() {
			num.Op = negateRelational(num.Op)
			return out
		}
	}
	out = append(out, ir.NewConst(int32(0), ir.I32, codePos, line))
	out = append(out, ir.NewNumeric(ir.OpEq, ir.I32, codePos, line))
	return out
}

func negateRelational(op ir.NumericOp) ir.NumericOp {
	switch op {
	case ir.OpEq:
		return ir.OpNe
	case ir.OpNe:
		return ir.OpEq
	case ir.OpLt:
		return ir.OpGe
	case ir.OpGe:
		return ir.OpLt
	case ir.OpGt:
		return ir.OpLe
	default:
		return ir.OpGt
	}
}
