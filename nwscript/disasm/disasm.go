package disasm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/nwtools/ncsdis/nwscript"
)

type (
	// Disassembler renders a decoded program into its textual forms:
	// a listing, bare assembly, a graphviz dot flow graph and a
	// partial NSS reconstruction. It never mutates the program, and
	// output is flushed to the sink in small chunks.
	Disassembler struct {
		ncs *nwscript.Program
	}
)

const spaces = "                                                                "

func New(p *nwscript.Program) *Disassembler {
	return &Disassembler{ncs: p}
}

// CreateListing writes a full disassembly with addresses and raw bytes.
func (d *Disassembler) CreateListing(ctx context.Context, w io.Writer, printStack bool) (err error) {
	tr := tlog.SpanFromContext(ctx)
	tr.Printw("create listing", "instructions", len(d.ncs.Instructions), "print_stack", printStack)

	var b []byte

	b = d.appendInfo(b)
	b = d.appendEngineTypes(b)

	for _, ins := range d.ncs.Instructions {
		b = d.appendJumpLabel(b, ins)

		if d.ncs.StackAnalyzed && printStack {
			b = d.appendStack(b, ins, 36)
		}

		b = hfmt.Appendf(b, "  %08X %-26s %s\n",
			ins.Address, nwscript.FormatBytes(ins), nwscript.FormatInstruction(ins, d.ncs.Game))

		if ins.Follower == nil {
			b = append(b, "  -------- -------------------------- ---\n"...)
		}

		b, err = flush(w, b)
		if err != nil {
			return errors.Wrap(err, "instruction %08x", ins.Address)
		}
	}

	_, err = flush(w, b)

	return err
}

// CreateAssembly writes bare disassembly, mnemonics only.
func (d *Disassembler) CreateAssembly(ctx context.Context, w io.Writer, printStack bool) (err error) {
	tr := tlog.SpanFromContext(ctx)
	tr.Printw("create assembly", "instructions", len(d.ncs.Instructions), "print_stack", printStack)

	var b []byte

	b = d.appendInfo(b)
	b = d.appendEngineTypes(b)

	for _, ins := range d.ncs.Instructions {
		b = d.appendJumpLabel(b, ins)

		if d.ncs.StackAnalyzed && printStack {
			b = d.appendStack(b, ins, 0)
		}

		b = hfmt.Appendf(b, "  %s\n", nwscript.FormatInstruction(ins, d.ncs.Game))

		if ins.Follower == nil {
			b = append(b, '\n')
		}

		b, err = flush(w, b)
		if err != nil {
			return errors.Wrap(err, "instruction %08x", ins.Address)
		}
	}

	_, err = flush(w, b)

	return err
}

func (d *Disassembler) appendInfo(b []byte) []byte {
	return hfmt.Appendf(b, "; %d bytes, %d instructions\n\n", d.ncs.Size, len(d.ncs.Instructions))
}

func (d *Disassembler) appendEngineTypes(b []byte) []byte {
	count := nwscript.EngineTypeCount(d.ncs.Game)
	if count == 0 {
		return b
	}

	b = append(b, "; Engine types:\n"...)

	for n := 0; n < count; n++ {
		name := nwscript.EngineTypeName(d.ncs.Game, n)
		if name == "" {
			continue
		}

		b = hfmt.Appendf(b, "; %s: %s\n", nwscript.GenericEngineTypeName(n), name)
	}

	b = append(b, '\n')

	return b
}

func (d *Disassembler) appendJumpLabel(b []byte, ins *nwscript.Instruction) []byte {
	label := nwscript.FormatJumpLabelName(ins)
	if label == "" {
		return b
	}

	b = append(b, label...)
	b = append(b, ':')

	if sig := d.instructionSignature(ins); sig != "" {
		b = append(b, " ; "...)
		b = append(b, sig...)
	}

	b = append(b, '\n')

	return b
}

func (d *Disassembler) appendStack(b []byte, ins *nwscript.Instruction, indent int) []byte {
	b = append(b, spaces[:indent]...)
	b = hfmt.Appendf(b, "; .--- Stack: %4d ---\n", len(ins.Stack))

	for n, slot := range ins.Stack {
		v := slot.Variable

		siblings := ""
		if len(v.Siblings) > 0 {
			ids := make([]string, len(v.Siblings))
			for i, sib := range v.Siblings {
				ids[i] = fmt.Sprintf("%d", sib.ID)
			}

			siblings = " (" + strings.Join(ids, ",") + ")"
		}

		var creator uint32
		if v.Creator != nil {
			creator = v.Creator.Address
		}

		b = append(b, spaces[:indent]...)
		b = hfmt.Appendf(b, "; | %4d - %6d: %-8s (%08X)%s\n",
			n, v.ID, strings.ToLower(nwscript.VariableTypeName(v.Type, d.ncs.Game)), creator, siblings)
	}

	b = append(b, spaces[:indent]...)
	b = append(b, "; '--- ---------- ---\n"...)

	return b
}

// subRoutineSignature is the signature shown next to labels and cluster
// titles. It is only available for normal, fully analyzed subroutines.
func (d *Disassembler) subRoutineSignature(s *nwscript.SubRoutine) string {
	if !d.ncs.StackAnalyzed {
		return ""
	}

	switch s.Type {
	case nwscript.SubRoutineStart, nwscript.SubRoutineGlobal, nwscript.SubRoutineStoreState:
		return ""
	}

	if s.StackAnalyzeState != nwscript.StackAnalyzeFinished {
		return ""
	}

	return nwscript.FormatSignature(s, d.ncs.Game, false)
}

func (d *Disassembler) instructionSignature(ins *nwscript.Instruction) string {
	if !d.ncs.StackAnalyzed {
		return ""
	}

	if ins.AddressType != nwscript.AddressSubRoutine || ins.Block == nil || ins.Block.SubRoutine == nil {
		return ""
	}

	return d.subRoutineSignature(ins.Block.SubRoutine)
}

func flush(w io.Writer, b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}

	_, err := w.Write(b)
	if err != nil {
		return b, errors.Wrap(err, "write")
	}

	return b[:0], nil
}

// assert guards model invariants the analysis passes must uphold.
func assert(ok bool, f string, args ...any) {
	if !ok {
		panic(fmt.Sprintf("%v: ", loc.Caller(1)) + fmt.Sprintf(f, args...))
	}
}
