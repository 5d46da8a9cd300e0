package decode

import (
	"context"
	"sort"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/nwtools/ncsdis/nwscript"
	"github.com/nwtools/ncsdis/nwscript/set"
)

type (
	flow struct {
		p *nwscript.Program
		s *state

		leaders set.Bitmap
		byAddr  map[uint32]*nwscript.Block
	}
)

// buildFlow splits the instruction stream into basic blocks, classifies
// the edges between them and groups the blocks into subroutines.
func buildFlow(ctx context.Context, p *nwscript.Program, s *state) (err error) {
	tr := tlog.SpanFromContext(ctx)

	f := &flow{
		p:       p,
		s:       s,
		leaders: set.MakeBitmap(int(s.size)),
		byAddr:  map[uint32]*nwscript.Block{},
	}

	f.markLeaders()
	f.buildBlocks()
	f.linkBlocks()
	f.buildSubRoutines()

	tr.Printw("flow built", "leaders", f.leaders.Size())

	return nil
}

// endsBlock reports whether control does not simply fall through
// to the next instruction in the stream.
func endsBlock(ins *nwscript.Instruction) bool {
	switch ins.Opcode {
	case nwscript.OpJMP, nwscript.OpJSR, nwscript.OpJZ, nwscript.OpJNZ,
		nwscript.OpRETN, nwscript.OpSTORESTATE, nwscript.OpSTORESTATEALL:
		return true
	}

	return false
}

func (f *flow) markLeaders() {
	f.leaders.Set(int(f.s.instructions[0].Address))

	for n, ins := range f.s.instructions {
		for _, t := range ins.Branches {
			f.leaders.Set(int(t.Address))
		}

		// The instruction after a terminator starts a new block even
		// when it is only reachable through a branch, or not at all.
		if endsBlock(ins) && n+1 < len(f.s.instructions) {
			f.leaders.Set(int(f.s.instructions[n+1].Address))
		}
	}
}

func (f *flow) buildBlocks() {
	index := map[uint32]int{}
	for n, ins := range f.s.instructions {
		index[ins.Address] = n
	}

	work := heap.Heap[uint32]{Less: func(d []uint32, i, j int) bool { return d[i] < d[j] }}

	for _, ins := range f.s.instructions {
		if f.leaders.IsSet(int(ins.Address)) {
			work.Push(ins.Address)
		}
	}

	for work.Len() != 0 {
		addr := work.Pop()
		if _, ok := f.byAddr[addr]; ok {
			continue
		}

		b := &nwscript.Block{Address: addr}

		for n := index[addr]; n < len(f.s.instructions); n++ {
			ins := f.s.instructions[n]

			if len(b.Instructions) > 0 && f.leaders.IsSet(int(ins.Address)) {
				break
			}

			b.Instructions = append(b.Instructions, ins)
			ins.Block = b

			if endsBlock(ins) {
				break
			}
		}

		f.byAddr[addr] = b
		f.p.Blocks = append(f.p.Blocks, b)
	}

	sort.Slice(f.p.Blocks, func(i, j int) bool { return f.p.Blocks[i].Address < f.p.Blocks[j].Address })
}

func (f *flow) linkBlocks() {
	for _, b := range f.p.Blocks {
		last := b.LastInstruction()
		if last == nil {
			continue
		}

		link := func(to *nwscript.Instruction, kind nwscript.BlockEdgeType) {
			b.Children = append(b.Children, f.byAddr[to.Address])
			b.ChildrenTypes = append(b.ChildrenTypes, kind)
		}

		switch last.Opcode {
		case nwscript.OpJMP:
			link(last.Branches[0], nwscript.EdgeUnconditional)

		case nwscript.OpJZ:
			// JZ takes the jump when the condition is zero.
			link(last.Branches[0], nwscript.EdgeConditionalFalse)

			if last.Follower != nil {
				link(last.Follower, nwscript.EdgeConditionalTrue)
			}

		case nwscript.OpJNZ:
			link(last.Branches[0], nwscript.EdgeConditionalTrue)

			if last.Follower != nil {
				link(last.Follower, nwscript.EdgeConditionalFalse)
			}

		case nwscript.OpJSR:
			link(last.Branches[0], nwscript.EdgeSubRoutineCall)

			if last.Follower != nil {
				link(last.Follower, nwscript.EdgeSubRoutineTail)
			}

		case nwscript.OpSTORESTATE, nwscript.OpSTORESTATEALL:
			link(last.Branches[0], nwscript.EdgeSubRoutineStore)

			if last.Follower != nil {
				link(last.Follower, nwscript.EdgeUnconditional)
			}

		case nwscript.OpRETN:
			// no successors

		default:
			if last.Follower != nil {
				link(last.Follower, nwscript.EdgeUnconditional)
			}
		}
	}
}

func (f *flow) buildSubRoutines() {
	entries := map[uint32]*nwscript.SubRoutine{}

	add := func(addr uint32, tp nwscript.SubRoutineType) *nwscript.SubRoutine {
		if sub, ok := entries[addr]; ok {
			return sub
		}

		sub := &nwscript.SubRoutine{Address: addr, Type: tp}
		entries[addr] = sub
		f.p.SubRoutines = append(f.p.SubRoutines, sub)

		return sub
	}

	start := add(f.s.instructions[0].Address, nwscript.SubRoutineStart)

	for _, ins := range f.s.instructions {
		switch ins.AddressType {
		case nwscript.AddressSubRoutine:
			if ins.Address != start.Address {
				add(ins.Address, nwscript.SubRoutineNormal)
			}
		case nwscript.AddressStoreState:
			add(ins.Address, nwscript.SubRoutineStoreState)
		}
	}

	sort.Slice(f.p.SubRoutines, func(i, j int) bool {
		return f.p.SubRoutines[i].Address < f.p.SubRoutines[j].Address
	})

	for _, sub := range f.p.SubRoutines {
		f.claimBlocks(sub, entries)
	}

	// Blocks no subroutine reached hang off a pseudo subroutine
	// at their own address.
	for _, b := range f.p.Blocks {
		if b.SubRoutine != nil {
			continue
		}

		sub := add(b.Address, nwscript.SubRoutineNormal)
		f.claimBlocks(sub, entries)
	}

	sort.Slice(f.p.SubRoutines, func(i, j int) bool {
		return f.p.SubRoutines[i].Address < f.p.SubRoutines[j].Address
	})

	f.classifySubRoutines(entries)
}

// claimBlocks walks the intra subroutine flow from the entry block,
// stopping at call and store edges and at other subroutine entries.
func (f *flow) claimBlocks(sub *nwscript.SubRoutine, entries map[uint32]*nwscript.SubRoutine) {
	entry, ok := f.byAddr[sub.Address]
	if !ok {
		return
	}

	queue := []*nwscript.Block{entry}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]

		if b.SubRoutine != nil {
			continue
		}

		if other, ok := entries[b.Address]; ok && other != sub {
			continue
		}

		b.SubRoutine = sub
		sub.Blocks = append(sub.Blocks, b)

		if last := b.LastInstruction(); last != nil && last.Opcode == nwscript.OpRETN {
			sub.Returns = append(sub.Returns, b)
		}

		for n, child := range b.Children {
			switch b.ChildrenTypes[n] {
			case nwscript.EdgeSubRoutineCall, nwscript.EdgeSubRoutineStore:
				continue
			}

			queue = append(queue, child)
		}
	}

	sort.Slice(sub.Blocks, func(i, j int) bool { return sub.Blocks[i].Address < sub.Blocks[j].Address })
}

// classifySubRoutines finds the globals initializer and names main.
func (f *flow) classifySubRoutines(entries map[uint32]*nwscript.SubRoutine) {
	for _, sub := range f.p.SubRoutines {
		if sub.Type != nwscript.SubRoutineNormal {
			continue
		}

		for _, b := range sub.Blocks {
			for _, ins := range b.Instructions {
				if ins.Opcode == nwscript.OpSAVEBP {
					sub.Type = nwscript.SubRoutineGlobal
				}
			}
		}
	}

	// main is the first normal subroutine called from _start,
	// or from _global when the script sets up globals first.
	caller := entries[f.s.instructions[0].Address]

	for range f.p.SubRoutines {
		callee := f.firstCallee(caller)
		if callee == nil {
			break
		}

		if callee.Type == nwscript.SubRoutineGlobal {
			caller = callee
			continue
		}

		if callee.Type == nwscript.SubRoutineNormal {
			callee.Name = "main"
		}

		break
	}
}

func (f *flow) firstCallee(sub *nwscript.SubRoutine) *nwscript.SubRoutine {
	if sub == nil {
		return nil
	}

	for _, b := range sub.Blocks {
		for n, t := range b.ChildrenTypes {
			if t == nwscript.EdgeSubRoutineCall {
				return b.Children[n].SubRoutine
			}
		}
	}

	return nil
}
