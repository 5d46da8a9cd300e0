package decode

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwtools/ncsdis/nwscript"
)

func ncs(t *testing.T, code ...[]byte) []byte {
	t.Helper()

	b := []byte("NCS V1.0")
	b = append(b, 0x42, 0, 0, 0, 0)

	for _, c := range code {
		b = append(b, c...)
	}

	binary.BigEndian.PutUint32(b[9:], uint32(len(b)))

	return b
}

func i32(v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func retn() []byte { return []byte{0x20, 0x00} }

func jsr(off int32) []byte { return append([]byte{0x1E, 0x00}, i32(off)...) }

func jz(off int32) []byte { return append([]byte{0x1F, 0x00}, i32(off)...) }

func jmp(off int32) []byte { return append([]byte{0x1D, 0x00}, i32(off)...) }

func constI(v int32) []byte { return append([]byte{0x04, 0x03}, i32(v)...) }

func TestDecodeHeader(t *testing.T) {
	p, err := Decode(context.Background(), ncs(t, retn()), nwscript.GameNWN)
	require.NoError(t, err)

	require.Equal(t, uint32(15), p.Size)
	require.Len(t, p.Instructions, 1)
	require.Equal(t, nwscript.OpRETN, p.Instructions[0].Opcode)
	require.Equal(t, uint32(13), p.Instructions[0].Address)
	require.Equal(t, []byte{0x20, 0x00}, p.Instructions[0].Bytes)
	require.False(t, p.StackAnalyzed)
}

func TestDecodeHeaderErrors(t *testing.T) {
	_, err := Decode(context.Background(), []byte("NCS"), nwscript.GameNWN)
	require.Error(t, err)

	bad := ncs(t, retn())
	bad[0] = 'X'
	_, err = Decode(context.Background(), bad, nwscript.GameNWN)
	require.Error(t, err)

	bad = ncs(t, retn())
	bad[8] = 0x41
	_, err = Decode(context.Background(), bad, nwscript.GameNWN)
	require.Error(t, err)

	bad = ncs(t, retn())
	binary.BigEndian.PutUint32(bad[9:], uint32(len(bad)+100))
	_, err = Decode(context.Background(), bad, nwscript.GameNWN)
	require.Error(t, err)
}

func TestDecodeInvalidOpcode(t *testing.T) {
	_, err := Decode(context.Background(), ncs(t, []byte{0xEE, 0x00}), nwscript.GameNWN)
	require.Error(t, err)
}

func TestDecodeBranchOutOfProgram(t *testing.T) {
	_, err := Decode(context.Background(), ncs(t, jmp(3), retn()), nwscript.GameNWN)
	require.Error(t, err)
}

func TestDecodeCall(t *testing.T) {
	// _start: JSR +8; RETN; main: RETN
	p, err := Decode(context.Background(), ncs(t, jsr(8), retn(), retn()), nwscript.GameNWN)
	require.NoError(t, err)

	require.Len(t, p.Instructions, 3)

	start := p.Instructions[0]
	require.Equal(t, nwscript.OpJSR, start.Opcode)
	require.Len(t, start.Branches, 1)
	require.Equal(t, uint32(21), start.Branches[0].Address)
	require.Equal(t, nwscript.AddressSubRoutine, start.Branches[0].AddressType)
	require.Same(t, p.Instructions[1], start.Follower)

	require.Nil(t, p.Instructions[1].Follower)
	require.Nil(t, p.Instructions[2].Follower)

	require.Len(t, p.Blocks, 3)

	entry := p.Blocks[0]
	require.Equal(t, uint32(13), entry.Address)
	require.Len(t, entry.Children, 2)
	require.Equal(t, nwscript.EdgeSubRoutineCall, entry.ChildrenTypes[0])
	require.Equal(t, uint32(21), entry.Children[0].Address)
	require.Equal(t, nwscript.EdgeSubRoutineTail, entry.ChildrenTypes[1])
	require.Equal(t, uint32(19), entry.Children[1].Address)

	require.Len(t, p.SubRoutines, 2)

	require.Equal(t, nwscript.SubRoutineStart, p.SubRoutines[0].Type)
	require.Equal(t, uint32(13), p.SubRoutines[0].Address)

	main := p.SubRoutines[1]
	require.Equal(t, nwscript.SubRoutineNormal, main.Type)
	require.Equal(t, "main", main.Name)
	require.Len(t, main.Returns, 1)
}

func TestDecodeConditional(t *testing.T) {
	// CONSTI 1; JZ +12; CONSTI 2; RETN
	p, err := Decode(context.Background(), ncs(t, constI(1), jz(12), constI(2), retn()), nwscript.GameNWN)
	require.NoError(t, err)

	require.Len(t, p.Instructions, 4)

	jzIns := p.Instructions[1]
	require.Equal(t, nwscript.OpJZ, jzIns.Opcode)
	require.Equal(t, uint32(31), jzIns.Branches[0].Address)
	require.Equal(t, nwscript.AddressJumpTarget, jzIns.Branches[0].AddressType)

	var jzBlock *nwscript.Block
	for _, b := range p.Blocks {
		if b.LastInstruction() == jzIns {
			jzBlock = b
		}
	}
	require.NotNil(t, jzBlock)

	require.Len(t, jzBlock.Children, 2)
	require.Equal(t, nwscript.EdgeConditionalFalse, jzBlock.ChildrenTypes[0])
	require.Equal(t, uint32(31), jzBlock.Children[0].Address)
	require.Equal(t, nwscript.EdgeConditionalTrue, jzBlock.ChildrenTypes[1])
	require.Equal(t, uint32(25), jzBlock.Children[1].Address)

	for _, b := range p.Blocks {
		require.Len(t, b.ChildrenTypes, len(b.Children))
		require.NotNil(t, b.SubRoutine)
	}
}

func TestDecodeConstString(t *testing.T) {
	code := []byte{0x04, 0x05, 0x00, 0x03, 'h', 'i', 0x80}

	p, err := Decode(context.Background(), ncs(t, code, retn()), nwscript.GameNWN)
	require.NoError(t, err)

	// 0x80 is the euro sign in Windows-1252.
	require.Equal(t, "hi€", p.Instructions[0].ArgString)
}

func TestDecodeAction(t *testing.T) {
	code := []byte{0x05, 0x00, 0x00, 0x01, 0x02}

	p, err := Decode(context.Background(), ncs(t, code, retn()), nwscript.GameNWN)
	require.NoError(t, err)

	require.Equal(t, []int32{1, 2}, p.Instructions[0].Args)
}

func TestDecodeCopyOps(t *testing.T) {
	code := []byte{0x01, 0x01, 0xFF, 0xFF, 0xFF, 0xF8, 0x00, 0x04}

	p, err := Decode(context.Background(), ncs(t, code, retn()), nwscript.GameNWN)
	require.NoError(t, err)

	require.Equal(t, []int32{-8, 4}, p.Instructions[0].Args)
}

func TestDecodeUnreachableBlockGetsPseudoSub(t *testing.T) {
	// RETN; RETN — the second RETN is unreachable.
	p, err := Decode(context.Background(), ncs(t, retn(), retn()), nwscript.GameNWN)
	require.NoError(t, err)

	require.Len(t, p.Blocks, 2)

	for _, b := range p.Blocks {
		require.NotNil(t, b.SubRoutine)
	}

	require.Len(t, p.SubRoutines, 2)
	require.Equal(t, uint32(15), p.SubRoutines[1].Address)
}

func TestDecodeGlobals(t *testing.T) {
	// _start: JSR +8; RETN
	// _global: SAVEBP; JSR +8; RETN
	// main: RETN
	code := [][]byte{
		jsr(8),       // 13 -> 21
		retn(),       // 19
		{0x2A, 0x00}, // 21 SAVEBP
		jsr(8),       // 23 -> 31
		retn(),       // 29
		retn(),       // 31 main
	}

	p, err := Decode(context.Background(), ncs(t, code...), nwscript.GameNWN)
	require.NoError(t, err)

	require.Len(t, p.SubRoutines, 3)

	require.Equal(t, nwscript.SubRoutineStart, p.SubRoutines[0].Type)
	require.Equal(t, nwscript.SubRoutineGlobal, p.SubRoutines[1].Type)

	main := p.SubRoutines[2]
	require.Equal(t, nwscript.SubRoutineNormal, main.Type)
	require.Equal(t, "main", main.Name)
	require.Equal(t, uint32(31), main.Address)
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := DecodeFile(context.Background(), "does-not-exist.ncs", nwscript.GameNWN)
	require.Error(t, err)
}
