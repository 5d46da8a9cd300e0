package disasm

import (
	"context"
	"io"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nwtools/ncsdis/nwscript"
)

const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"

// CreateNSS writes a best effort reconstruction of the original script
// source: global declarations, subroutine bodies, typed assignments,
// engine calls, if/else and return statements.
func (d *Disassembler) CreateNSS(ctx context.Context, w io.Writer) (err error) {
	tr := tlog.SpanFromContext(ctx)
	tr.Printw("create nss", "subroutines", len(d.ncs.SubRoutines), "globals", len(d.ncs.Globals))

	var b []byte

	b = append(b, "// Decompiled using ncsdis\n\n"...)

	for _, g := range d.ncs.Globals {
		b = hfmt.Appendf(b, "%s %s%d\n",
			nwscript.VariableTypeName(g.Type, d.ncs.Game), nwscript.FormatVariableName(g), g.ID)
	}

	b, err = flush(w, b)
	if err != nil {
		return errors.Wrap(err, "globals")
	}

	for _, sub := range d.ncs.SubRoutines {
		err = d.writeNSSSubRoutine(w, sub)
		if err != nil {
			return errors.Wrap(err, "subroutine %08x", sub.Address)
		}
	}

	return nil
}

func (d *Disassembler) writeNSSSubRoutine(w io.Writer, sub *nwscript.SubRoutine) (err error) {
	assert(len(sub.Returns) <= 1, "subroutine %08x: %d return blocks", sub.Address, len(sub.Returns))

	var b []byte

	b = append(b, "\n\n"...)
	b = append(b, nwscript.FormatSignature(sub, d.ncs.Game, true)...)
	b = append(b, " {\n"...)

	b, err = flush(w, b)
	if err != nil {
		return err
	}

	if len(sub.Blocks) > 0 {
		err = d.writeNSSBlock(w, sub.Blocks[0], 1)
		if err != nil {
			return err
		}
	}

	_, err = flush(w, []byte("}"))

	return err
}

// writeNSSBlock emits the block's own statements, then call edges, then
// the structured control the block heads.
func (d *Disassembler) writeNSSBlock(w io.Writer, block *nwscript.Block, indent int) (err error) {
	var b []byte

	for _, ins := range block.Instructions {
		b = d.appendNSSInstruction(b, ins, indent)
	}

	b, err = flush(w, b)
	if err != nil {
		return errors.Wrap(err, "block %08x", block.Address)
	}

	for _, childType := range block.ChildrenTypes {
		if !nwscript.IsSubRoutineCall(childType) {
			continue
		}

		last := block.LastInstruction()

		b = append(b[:0], tabs[:indent]...)
		b = append(b, nwscript.FormatJumpLabelName(last.Branches[0])...)
		b = append(b, '(')

		for i, v := range last.Variables {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, nwscript.FormatVariableName(v)...)
		}

		b = append(b, ");\n"...)

		b, err = flush(w, b)
		if err != nil {
			return errors.Wrap(err, "block %08x", block.Address)
		}

		// children[1] is where execution resumes after the call.
		err = d.writeNSSBlock(w, block.Children[1], indent)
		if err != nil {
			return err
		}
	}

	for _, control := range block.Controls {
		switch control.Type {
		case nwscript.ControlReturn:
			b = d.appendNSSReturn(b[:0], control, indent)

			b, err = flush(w, b)
			if err != nil {
				return errors.Wrap(err, "block %08x", block.Address)
			}

		case nwscript.ControlIfCond:
			err = d.writeNSSIf(w, control, indent)
			if err != nil {
				return err
			}
		}

		// While and do-while reconstruction is not implemented.
	}

	return nil
}

func (d *Disassembler) appendNSSReturn(b []byte, control nwscript.ControlStructure, indent int) []byte {
	b = append(b, tabs[:indent]...)

	retn := control.Retn

	if retn == nil || len(retn.Instructions) == 0 {
		return append(b, "return;\n"...)
	}

	if len(retn.LastInstruction().Stack) == 0 {
		return append(b, "return;\n"...)
	}

	b = append(b, "return "...)
	b = append(b, nwscript.FormatVariableName(retn.Instructions[0].Variables[0])...)
	b = append(b, ";\n"...)

	return b
}

func (d *Disassembler) writeNSSIf(w io.Writer, control nwscript.ControlStructure, indent int) (err error) {
	var b []byte

	cond := control.IfCond.LastInstruction().Variables[0]

	b = append(b, tabs[:indent]...)
	b = append(b, "if ("...)
	b = append(b, nwscript.FormatVariableName(cond)...)
	b = append(b, ") {\n"...)

	b, err = flush(w, b)
	if err != nil {
		return errors.Wrap(err, "if %08x", control.IfCond.Address)
	}

	if control.IfTrue != nil {
		err = d.writeNSSBlock(w, control.IfTrue, indent+1)
		if err != nil {
			return err
		}
	}

	b = append(b[:0], tabs[:indent]...)
	b = append(b, '}')

	if control.IfElse != nil {
		b = append(b, " else {\n"...)

		b, err = flush(w, b)
		if err != nil {
			return errors.Wrap(err, "if %08x", control.IfCond.Address)
		}

		err = d.writeNSSBlock(w, control.IfElse, indent+1)
		if err != nil {
			return err
		}

		b = append(b, tabs[:indent]...)
		b = append(b, '}')
	}

	b = append(b, '\n')

	b, err = flush(w, b)
	if err != nil {
		return errors.Wrap(err, "if %08x", control.IfCond.Address)
	}

	if control.IfNext != nil {
		err = d.writeNSSBlock(w, control.IfNext, indent)
		if err != nil {
			return err
		}
	}

	return nil
}

// appendNSSInstruction renders one opcode as a source statement.
// Opcodes that do not map to a statement are skipped.
func (d *Disassembler) appendNSSInstruction(b []byte, ins *nwscript.Instruction, indent int) []byte {
	game := d.ncs.Game

	switch ins.Opcode {
	case nwscript.OpCONST:
		v := ins.Variables[0]

		b = append(b, tabs[:indent]...)
		b = hfmt.Appendf(b, "%s %s = %s;\n",
			nwscript.VariableTypeName(v.Type, nwscript.GameUnknown),
			nwscript.FormatVariableName(v), nwscript.FormatInstructionData(ins))

	case nwscript.OpACTION:
		paramCount := int(ins.Args[1])

		b = append(b, tabs[:indent]...)

		if len(ins.Variables) > paramCount {
			ret := ins.Variables[len(ins.Variables)-1]

			b = hfmt.Appendf(b, "%s %s = ",
				nwscript.VariableTypeName(ret.Type, game), nwscript.FormatVariableName(ret))
		}

		b = append(b, nwscript.FunctionName(game, ins.Args[0])...)
		b = append(b, '(')

		for i := 0; i < paramCount; i++ {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, nwscript.FormatVariableName(ins.Variables[i])...)
		}

		b = append(b, ");\n"...)

	case nwscript.OpCPDOWNBP, nwscript.OpCPDOWNSP, nwscript.OpCPTOPBP, nwscript.OpCPTOPSP:
		src := ins.Variables[0]
		dst := ins.Variables[1]

		b = append(b, tabs[:indent]...)
		b = hfmt.Appendf(b, "%s %s = %s;\n",
			nwscript.VariableTypeName(dst.Type, game),
			nwscript.FormatVariableName(dst), nwscript.FormatVariableName(src))

	case nwscript.OpLOGAND:
		b = d.appendNSSBinary(b, ins, "&&", indent)
	case nwscript.OpLOGOR:
		b = d.appendNSSBinary(b, ins, "||", indent)
	case nwscript.OpEQ:
		b = d.appendNSSBinary(b, ins, "==", indent)
	case nwscript.OpLEQ:
		b = d.appendNSSBinary(b, ins, "<=", indent)
	case nwscript.OpLT:
		b = d.appendNSSBinary(b, ins, "<", indent)
	case nwscript.OpGEQ:
		b = d.appendNSSBinary(b, ins, ">=", indent)
	case nwscript.OpGT:
		b = d.appendNSSBinary(b, ins, ">", indent)

	case nwscript.OpNOT:
		v := ins.Variables[0]
		// The result slot sits at index 2, matching the stack
		// analysis layout for the binary operators.
		result := ins.Variables[2]

		b = append(b, tabs[:indent]...)
		b = hfmt.Appendf(b, "%s %s = !%s;\n",
			nwscript.VariableTypeName(result.Type, game),
			nwscript.FormatVariableName(result), nwscript.FormatVariableName(v))

	case nwscript.OpRSADD:
		v := ins.Variables[0]

		b = append(b, tabs[:indent]...)
		b = hfmt.Appendf(b, "%s %s = %s;\n",
			nwscript.VariableTypeName(v.Type, game), nwscript.FormatVariableName(v), zeroLiteral(v.Type))
	}

	return b
}

func (d *Disassembler) appendNSSBinary(b []byte, ins *nwscript.Instruction, op string, indent int) []byte {
	v1 := ins.Variables[0]
	v2 := ins.Variables[1]
	result := ins.Variables[2]

	b = append(b, tabs[:indent]...)
	b = hfmt.Appendf(b, "%s %s = %s %s %s;\n",
		nwscript.VariableTypeName(result.Type, d.ncs.Game), nwscript.FormatVariableName(result),
		nwscript.FormatVariableName(v1), op, nwscript.FormatVariableName(v2))

	return b
}

func zeroLiteral(t nwscript.VarType) string {
	switch t {
	case nwscript.VarString:
		return `""`
	case nwscript.VarFloat:
		return "0.0"
	}

	return "0"
}
