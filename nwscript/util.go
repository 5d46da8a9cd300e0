package nwscript

import (
	"fmt"
	"strings"
)

var opcodeNames = map[Opcode]string{
	OpCPDOWNSP:      "CPDOWNSP",
	OpRSADD:         "RSADD",
	OpCPTOPSP:       "CPTOPSP",
	OpCONST:         "CONST",
	OpACTION:        "ACTION",
	OpLOGAND:        "LOGAND",
	OpLOGOR:         "LOGOR",
	OpINCOR:         "INCOR",
	OpEXCOR:         "EXCOR",
	OpBOOLAND:       "BOOLAND",
	OpEQ:            "EQ",
	OpNEQ:           "NEQ",
	OpGEQ:           "GEQ",
	OpGT:            "GT",
	OpLT:            "LT",
	OpLEQ:           "LEQ",
	OpSHLEFT:        "SHLEFT",
	OpSHRIGHT:       "SHRIGHT",
	OpUSHRIGHT:      "USHRIGHT",
	OpADD:           "ADD",
	OpSUB:           "SUB",
	OpMUL:           "MUL",
	OpDIV:           "DIV",
	OpMOD:           "MOD",
	OpNEG:           "NEG",
	OpCOMP:          "COMP",
	OpMOVSP:         "MOVSP",
	OpSTORESTATEALL: "STORESTATEALL",
	OpJMP:           "JMP",
	OpJSR:           "JSR",
	OpJZ:            "JZ",
	OpRETN:          "RETN",
	OpDESTRUCT:      "DESTRUCT",
	OpNOT:           "NOT",
	OpDECSP:         "DECISP",
	OpINCSP:         "INCISP",
	OpJNZ:           "JNZ",
	OpCPDOWNBP:      "CPDOWNBP",
	OpCPTOPBP:       "CPTOPBP",
	OpDECBP:         "DECIBP",
	OpINCBP:         "INCIBP",
	OpSAVEBP:        "SAVEBP",
	OpRESTOREBP:     "RESTOREBP",
	OpSTORESTATE:    "STORESTATE",
	OpNOP:           "NOP",
}

var typeSuffixes = map[InstType]string{
	TypeInt:          "I",
	TypeFloat:        "F",
	TypeString:       "S",
	TypeObject:       "O",
	TypeEngine0:      "E0",
	TypeEngine1:      "E1",
	TypeEngine2:      "E2",
	TypeEngine3:      "E3",
	TypeEngine4:      "E4",
	TypeEngine5:      "E5",
	TypeIntInt:       "II",
	TypeFloatFloat:   "FF",
	TypeObjectObject: "OO",
	TypeStringString: "SS",
	TypeStructStruct: "TT",
	TypeIntFloat:     "IF",
	TypeFloatInt:     "FI",
	TypeVectorVector: "VV",
	TypeVectorFloat:  "VF",
	TypeFloatVector:  "FV",
}

// OpcodeName returns the bare mnemonic without a type suffix.
func OpcodeName(op Opcode) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}

	return fmt.Sprintf("OP_%02X", byte(op))
}

// Mnemonic returns the full mnemonic including the type suffix.
func Mnemonic(i *Instruction) string {
	return OpcodeName(i.Opcode) + typeSuffixes[i.Type]
}

// FormatBytes renders the raw instruction bytes as a space separated hex dump.
func FormatBytes(i *Instruction) string {
	var sb strings.Builder

	for n, c := range i.Bytes {
		if n != 0 {
			sb.WriteByte(' ')
		}

		fmt.Fprintf(&sb, "%02X", c)
	}

	return sb.String()
}

// FormatInstructionData renders the constant payload of a CONST instruction.
func FormatInstructionData(i *Instruction) string {
	switch i.Type {
	case TypeInt, TypeObject:
		if len(i.Args) > 0 {
			return fmt.Sprintf("%d", i.Args[0])
		}
	case TypeFloat:
		return fmt.Sprintf("%f", i.ArgFloat)
	case TypeString:
		return fmt.Sprintf("%q", i.ArgString)
	}

	return ""
}

// FormatInstruction renders the mnemonic and operands of one instruction.
func FormatInstruction(i *Instruction, game GameID) string {
	switch i.Opcode {
	case OpJMP, OpJSR, OpJZ, OpJNZ:
		dest := ""
		if len(i.Branches) > 0 {
			dest = FormatJumpLabelName(i.Branches[0])
			if dest == "" {
				dest = FormatJumpDestination(i.Branches[0].Address)
			}
		} else if len(i.Args) > 0 {
			dest = FormatJumpDestination(uint32(int64(i.Address) + int64(i.Args[0])))
		}

		return Mnemonic(i) + " " + dest

	case OpCONST:
		return Mnemonic(i) + " " + FormatInstructionData(i)

	case OpACTION:
		if len(i.Args) >= 2 {
			return fmt.Sprintf("%s %s %d", Mnemonic(i), FunctionName(game, i.Args[0]), i.Args[1])
		}

	case OpCPDOWNSP, OpCPTOPSP, OpCPDOWNBP, OpCPTOPBP, OpDESTRUCT:
		parts := make([]string, len(i.Args))
		for n, a := range i.Args {
			parts[n] = fmt.Sprintf("%d", a)
		}

		return Mnemonic(i) + " " + strings.Join(parts, ", ")

	case OpMOVSP, OpDECSP, OpINCSP, OpDECBP, OpINCBP:
		if len(i.Args) > 0 {
			return fmt.Sprintf("%s %d", Mnemonic(i), i.Args[0])
		}

	case OpSTORESTATE:
		if len(i.Args) >= 2 {
			return fmt.Sprintf("%s %d, %d", Mnemonic(i), i.Args[0], i.Args[1])
		}

	case OpEQ, OpNEQ:
		if i.Type == TypeStructStruct && len(i.Args) > 0 {
			return fmt.Sprintf("%s %d", Mnemonic(i), i.Args[0])
		}
	}

	return Mnemonic(i)
}

// FormatJumpDestination renders a synthetic label for a bare address.
func FormatJumpDestination(addr uint32) string {
	return fmt.Sprintf("loc_%08x", addr)
}

// FormatJumpLabelName returns the human label of a jump target instruction,
// empty when the instruction is not a target.
func FormatJumpLabelName(i *Instruction) string {
	switch i.AddressType {
	case AddressSubRoutine:
		if i.Block != nil && i.Block.SubRoutine != nil {
			return FormatSubRoutineName(i.Block.SubRoutine)
		}

		return fmt.Sprintf("sub_%08x", i.Address)

	case AddressStoreState:
		return fmt.Sprintf("sta_%08x", i.Address)

	case AddressJumpTarget:
		return fmt.Sprintf("loc_%08x", i.Address)
	}

	return ""
}

// FormatSubRoutineName returns the label of a subroutine.
func FormatSubRoutineName(s *SubRoutine) string {
	if s.Name != "" {
		return s.Name
	}

	switch s.Type {
	case SubRoutineStart:
		return "_start"
	case SubRoutineGlobal:
		return "_global"
	case SubRoutineStoreState:
		return fmt.Sprintf("sta_%08x", s.Address)
	}

	return fmt.Sprintf("sub_%08x", s.Address)
}

// FormatBlockLabelName returns the label of a block's entry, empty when the
// entry is not a jump target.
func FormatBlockLabelName(b *Block) string {
	if len(b.Instructions) == 0 {
		return ""
	}

	return FormatJumpLabelName(b.Instructions[0])
}

// FormatSignature renders a subroutine signature. With withNames the
// parameters carry their variable names, for NSS output.
func FormatSignature(s *SubRoutine, game GameID, withNames bool) string {
	var sb strings.Builder

	sb.WriteString(VariableTypeName(s.RetType, game))
	sb.WriteByte(' ')
	sb.WriteString(FormatSubRoutineName(s))
	sb.WriteByte('(')

	for n, p := range s.Params {
		if n != 0 {
			sb.WriteString(", ")
		}

		sb.WriteString(VariableTypeName(p.Type, game))

		if withNames {
			sb.WriteByte(' ')
			sb.WriteString(FormatVariableName(p))
		}
	}

	sb.WriteByte(')')

	return sb.String()
}

// FormatVariableName returns the deterministic spelling of a variable,
// a type prefix followed by the variable id.
func FormatVariableName(v *Variable) string {
	prefix := "var"

	switch v.Type {
	case VarInt:
		prefix = "i"
	case VarFloat:
		prefix = "f"
	case VarString:
		prefix = "s"
	case VarObject:
		prefix = "o"
	case VarVector:
		prefix = "v"
	}

	return fmt.Sprintf("%s%d", prefix, v.ID)
}
