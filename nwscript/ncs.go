package nwscript

type (
	// Opcode is a raw NCS opcode byte.
	Opcode byte

	// InstType is the raw type qualifier byte following the opcode.
	InstType byte

	// AddressType classifies what an instruction address is used as.
	AddressType int

	// BlockEdgeType classifies a control flow edge between two blocks.
	BlockEdgeType int

	// ControlType classifies the role a block plays in structured control flow.
	ControlType int

	// SubRoutineType classifies a subroutine.
	SubRoutineType int

	// StackAnalyzeState is the progress of stack analysis over a subroutine.
	StackAnalyzeState int

	// VarType is the inferred semantic type of a stack variable.
	VarType int

	// Program is a whole compiled script, the arena owning all
	// instructions, blocks, subroutines and variables. It is built once
	// by the decode and analysis layers and never mutated afterwards.
	Program struct {
		Game GameID
		Size uint32

		Instructions []*Instruction
		Blocks       []*Block
		SubRoutines  []*SubRoutine

		// Globals is the initial stack in place before main runs.
		Globals []*Variable

		Variables []*Variable

		StackAnalyzed bool
	}

	// Instruction is one decoded opcode.
	Instruction struct {
		Address uint32

		Opcode Opcode
		Type   InstType

		Bytes []byte

		// Args are the decoded integer operands. CONST payloads that
		// are not integers live in ArgFloat / ArgString instead.
		Args      []int32
		ArgFloat  float32
		ArgString string

		// Follower is the natural next instruction, nil for
		// terminators. Branches are jump destinations.
		Follower *Instruction
		Branches []*Instruction

		AddressType AddressType

		Block *Block

		// Stack and Variables are populated by stack analysis only.
		Stack     []StackSlot
		Variables []*Variable
	}

	// StackSlot is one entry of an instruction's stack snapshot.
	// Slot 0 is the most recently pushed.
	StackSlot struct {
		Variable *Variable
	}

	// Block is a maximal straight-line run of instructions.
	Block struct {
		Address uint32

		Instructions []*Instruction

		Children      []*Block
		ChildrenTypes []BlockEdgeType

		SubRoutine *SubRoutine

		Controls []ControlStructure
	}

	// SubRoutine is a function-like unit. The first block is the entry.
	SubRoutine struct {
		Address uint32

		// Name overrides the synthetic label when set ("main").
		Name string

		Blocks  []*Block
		Returns []*Block

		Type              SubRoutineType
		StackAnalyzeState StackAnalyzeState

		// Params and RetType are filled in by stack analysis.
		Params  []*Variable
		RetType VarType
	}

	// Variable is a typed stack slot inferred by stack analysis.
	Variable struct {
		ID   int
		Type VarType

		Creator *Instruction

		// Siblings are variables holding the same logical value at
		// different stack heights.
		Siblings []*Variable
	}

	// ControlStructure annotates a block with its structured role.
	ControlStructure struct {
		Type ControlType

		// Retn is the returning block for Return annotations.
		Retn *Block

		// If* are set for IfCond annotations.
		IfCond *Block
		IfTrue *Block
		IfElse *Block
		IfNext *Block
	}
)

const (
	OpCPDOWNSP      Opcode = 0x01
	OpRSADD         Opcode = 0x02
	OpCPTOPSP       Opcode = 0x03
	OpCONST         Opcode = 0x04
	OpACTION        Opcode = 0x05
	OpLOGAND        Opcode = 0x06
	OpLOGOR         Opcode = 0x07
	OpINCOR         Opcode = 0x08
	OpEXCOR         Opcode = 0x09
	OpBOOLAND       Opcode = 0x0A
	OpEQ            Opcode = 0x0B
	OpNEQ           Opcode = 0x0C
	OpGEQ           Opcode = 0x0D
	OpGT            Opcode = 0x0E
	OpLT            Opcode = 0x0F
	OpLEQ           Opcode = 0x10
	OpSHLEFT        Opcode = 0x11
	OpSHRIGHT       Opcode = 0x12
	OpUSHRIGHT      Opcode = 0x13
	OpADD           Opcode = 0x14
	OpSUB           Opcode = 0x15
	OpMUL           Opcode = 0x16
	OpDIV           Opcode = 0x17
	OpMOD           Opcode = 0x18
	OpNEG           Opcode = 0x19
	OpCOMP          Opcode = 0x1A
	OpMOVSP         Opcode = 0x1B
	OpSTORESTATEALL Opcode = 0x1C
	OpJMP           Opcode = 0x1D
	OpJSR           Opcode = 0x1E
	OpJZ            Opcode = 0x1F
	OpRETN          Opcode = 0x20
	OpDESTRUCT      Opcode = 0x21
	OpNOT           Opcode = 0x22
	OpDECSP         Opcode = 0x23
	OpINCSP         Opcode = 0x24
	OpJNZ           Opcode = 0x25
	OpCPDOWNBP      Opcode = 0x26
	OpCPTOPBP       Opcode = 0x27
	OpDECBP         Opcode = 0x28
	OpINCBP         Opcode = 0x29
	OpSAVEBP        Opcode = 0x2A
	OpRESTOREBP     Opcode = 0x2B
	OpSTORESTATE    Opcode = 0x2C
	OpNOP           Opcode = 0x2D
)

const (
	TypeNone         InstType = 0x00
	TypeDirect       InstType = 0x01
	TypeInt          InstType = 0x03
	TypeFloat        InstType = 0x04
	TypeString       InstType = 0x05
	TypeObject       InstType = 0x06
	TypeEngine0      InstType = 0x10
	TypeEngine1      InstType = 0x11
	TypeEngine2      InstType = 0x12
	TypeEngine3      InstType = 0x13
	TypeEngine4      InstType = 0x14
	TypeEngine5      InstType = 0x15
	TypeIntInt       InstType = 0x20
	TypeFloatFloat   InstType = 0x21
	TypeObjectObject InstType = 0x22
	TypeStringString InstType = 0x23
	TypeStructStruct InstType = 0x24
	TypeIntFloat     InstType = 0x25
	TypeFloatInt     InstType = 0x26
	TypeVectorVector InstType = 0x3A
	TypeVectorFloat  InstType = 0x3B
	TypeFloatVector  InstType = 0x3C
)

const (
	AddressNone AddressType = iota
	AddressSubRoutine
	AddressJumpTarget
	AddressStoreState
)

const (
	EdgeUnconditional BlockEdgeType = iota
	EdgeConditionalTrue
	EdgeConditionalFalse
	EdgeSubRoutineCall
	EdgeSubRoutineTail
	EdgeSubRoutineStore
	EdgeDead
)

const (
	ControlNone ControlType = iota
	ControlDoWhileHead
	ControlDoWhileTail
	ControlDoWhileNext
	ControlWhileHead
	ControlWhileTail
	ControlWhileNext
	ControlBreak
	ControlContinue
	ControlReturn
	ControlIfCond
	ControlIfTrue
	ControlIfElse
	ControlIfNext
)

const (
	SubRoutineNormal SubRoutineType = iota
	SubRoutineStart
	SubRoutineGlobal
	SubRoutineStoreState
)

const (
	StackAnalyzeNotStarted StackAnalyzeState = iota
	StackAnalyzeRunning
	StackAnalyzeFinished
	StackAnalyzeFailed
)

const (
	VarVoid VarType = iota
	VarAny
	VarInt
	VarFloat
	VarString
	VarResource
	VarObject
	VarVector
	VarStruct
	VarEngine0
	VarEngine1
	VarEngine2
	VarEngine3
	VarEngine4
	VarEngine5
	VarScriptState
)

// IsSubRoutineCall reports whether the edge transfers control into a callee.
func IsSubRoutineCall(t BlockEdgeType) bool {
	return t == EdgeSubRoutineCall
}

// LastInstruction returns the block's final instruction, nil for an empty block.
func (b *Block) LastInstruction() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}

	return b.Instructions[len(b.Instructions)-1]
}
