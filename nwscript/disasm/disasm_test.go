package disasm

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwtools/ncsdis/nwscript"
)

type errSink struct{}

func (errSink) Write(p []byte) (int, error) { return 0, io.ErrShortWrite }

func singleRetn() *nwscript.Program {
	retn := &nwscript.Instruction{
		Address: 0,
		Opcode:  nwscript.OpRETN,
		Bytes:   []byte{0x20, 0x00},
	}

	return &nwscript.Program{
		Game:         nwscript.GameUnknown,
		Size:         1,
		Instructions: []*nwscript.Instruction{retn},
	}
}

func TestAssemblySingleRetn(t *testing.T) {
	var buf bytes.Buffer

	d := New(singleRetn())

	err := d.CreateAssembly(context.Background(), &buf, false)
	require.NoError(t, err)

	require.Equal(t, "; 1 bytes, 1 instructions\n\n  RETN\n\n", buf.String())
}

func TestListingSeparator(t *testing.T) {
	i1 := &nwscript.Instruction{Address: 1, Opcode: nwscript.OpRETN, Bytes: []byte{0x20, 0x00}}
	i0 := &nwscript.Instruction{Address: 0, Opcode: nwscript.OpNOP, Bytes: []byte{0x2D, 0x00}, Follower: i1}

	p := &nwscript.Program{
		Size:         4,
		Instructions: []*nwscript.Instruction{i0, i1},
	}

	var buf bytes.Buffer

	err := New(p).CreateListing(context.Background(), &buf, false)
	require.NoError(t, err)

	lines := strings.Split(buf.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	require.Equal(t, "  -------- -------------------------- ---", lines[len(lines)-2])
	require.True(t, strings.HasPrefix(lines[len(lines)-3], "  00000001 "))
}

func TestListingLineCounts(t *testing.T) {
	i2 := &nwscript.Instruction{Address: 8, Opcode: nwscript.OpRETN, Bytes: []byte{0x20, 0x00}}
	i1 := &nwscript.Instruction{Address: 2, Opcode: nwscript.OpCONST, Type: nwscript.TypeInt, Args: []int32{7}, Bytes: []byte{0x04, 0x03, 0, 0, 0, 7}, Follower: i2}
	i0 := &nwscript.Instruction{Address: 0, Opcode: nwscript.OpNOP, Bytes: []byte{0x2D, 0x00}, Follower: i1}

	p := &nwscript.Program{
		Game:         nwscript.GameNWN,
		Size:         10,
		Instructions: []*nwscript.Instruction{i0, i1, i2},
	}

	var buf bytes.Buffer

	err := New(p).CreateListing(context.Background(), &buf, false)
	require.NoError(t, err)

	disasmLine := regexp.MustCompile(`(?m)^  [0-9A-F]{8} `)
	require.Len(t, disasmLine.FindAllString(buf.String(), -1), len(p.Instructions))

	banner := regexp.MustCompile(`(?m)^; \d+ bytes, \d+ instructions$`)
	require.Len(t, banner.FindAllString(buf.String(), -1), 1)
}

func TestBannerIdenticalAcrossModes(t *testing.T) {
	p := singleRetn()
	p.Game = nwscript.GameNWN

	outputs := make([]string, 0, 4)

	for _, f := range []func(d *Disassembler, buf *bytes.Buffer) error{
		func(d *Disassembler, buf *bytes.Buffer) error { return d.CreateListing(context.Background(), buf, false) },
		func(d *Disassembler, buf *bytes.Buffer) error { return d.CreateAssembly(context.Background(), buf, false) },
	} {
		var buf bytes.Buffer

		require.NoError(t, f(New(p), &buf))

		outputs = append(outputs, buf.String())
	}

	banner := outputs[0][:strings.Index(outputs[0], "\n\n")+2]
	require.Equal(t, "; 1 bytes, 1 instructions\n\n", banner)

	for _, out := range outputs {
		require.True(t, strings.HasPrefix(out, banner))
	}
}

func TestEngineTypeLegend(t *testing.T) {
	p := singleRetn()
	p.Game = nwscript.GameNWN

	var buf bytes.Buffer

	err := New(p).CreateAssembly(context.Background(), &buf, false)
	require.NoError(t, err)

	out := buf.String()

	require.Contains(t, out, "; Engine types:\n")
	require.Contains(t, out, "; E0: effect\n")
	require.Contains(t, out, "; E4: itemproperty\n")
}

func TestEngineTypeLegendSkipsEmptyNames(t *testing.T) {
	p := singleRetn()
	p.Game = nwscript.GameJade

	var buf bytes.Buffer

	err := New(p).CreateAssembly(context.Background(), &buf, false)
	require.NoError(t, err)

	require.Contains(t, buf.String(), "; Engine types:\n")
	require.NotContains(t, buf.String(), "; E3:")
}

func TestJumpLabelWithSignature(t *testing.T) {
	sub := &nwscript.SubRoutine{
		Address:           0x40,
		Type:              nwscript.SubRoutineNormal,
		StackAnalyzeState: nwscript.StackAnalyzeFinished,
		RetType:           nwscript.VarInt,
	}

	entry := &nwscript.Instruction{
		Address:     0x40,
		Opcode:      nwscript.OpRETN,
		Bytes:       []byte{0x20, 0x00},
		AddressType: nwscript.AddressSubRoutine,
	}

	block := &nwscript.Block{Address: 0x40, Instructions: []*nwscript.Instruction{entry}, SubRoutine: sub}
	entry.Block = block
	sub.Blocks = []*nwscript.Block{block}

	p := &nwscript.Program{
		Size:          2,
		Instructions:  []*nwscript.Instruction{entry},
		Blocks:        []*nwscript.Block{block},
		SubRoutines:   []*nwscript.SubRoutine{sub},
		StackAnalyzed: true,
	}

	var buf bytes.Buffer

	err := New(p).CreateListing(context.Background(), &buf, false)
	require.NoError(t, err)

	require.Contains(t, buf.String(), "sub_00000040: ; int sub_00000040()\n")
}

func TestNoSignatureWithoutStackAnalysis(t *testing.T) {
	sub := &nwscript.SubRoutine{
		Address:           0x40,
		Type:              nwscript.SubRoutineNormal,
		StackAnalyzeState: nwscript.StackAnalyzeFinished,
	}

	entry := &nwscript.Instruction{
		Address:     0x40,
		Opcode:      nwscript.OpRETN,
		Bytes:       []byte{0x20, 0x00},
		AddressType: nwscript.AddressSubRoutine,
	}

	block := &nwscript.Block{Address: 0x40, Instructions: []*nwscript.Instruction{entry}, SubRoutine: sub}
	entry.Block = block
	sub.Blocks = []*nwscript.Block{block}

	p := &nwscript.Program{
		Size:         2,
		Instructions: []*nwscript.Instruction{entry},
		Blocks:       []*nwscript.Block{block},
		SubRoutines:  []*nwscript.SubRoutine{sub},
	}

	var buf bytes.Buffer

	err := New(p).CreateListing(context.Background(), &buf, false)
	require.NoError(t, err)

	require.Contains(t, buf.String(), "sub_00000040:\n")
	require.NotContains(t, buf.String(), " ; ")
}

func TestStackDump(t *testing.T) {
	creator := &nwscript.Instruction{Address: 0x20}

	v1 := &nwscript.Variable{ID: 4, Type: nwscript.VarInt, Creator: creator}
	v2 := &nwscript.Variable{ID: 5, Type: nwscript.VarString}
	v2.Siblings = []*nwscript.Variable{{ID: 6}, {ID: 8}}

	ins := &nwscript.Instruction{
		Address: 0x30,
		Opcode:  nwscript.OpRETN,
		Bytes:   []byte{0x20, 0x00},
		Stack: []nwscript.StackSlot{
			{Variable: v1},
			{Variable: v2},
		},
	}

	p := &nwscript.Program{
		Size:          2,
		Instructions:  []*nwscript.Instruction{ins},
		StackAnalyzed: true,
	}

	var buf bytes.Buffer

	err := New(p).CreateAssembly(context.Background(), &buf, true)
	require.NoError(t, err)

	out := buf.String()

	require.Contains(t, out, "; .--- Stack:    2 ---\n")
	require.Contains(t, out, "; |    0 -      4: int      (00000020)\n")
	require.Contains(t, out, "; |    1 -      5: string   (00000000) (6,8)\n")
	require.Contains(t, out, "; '--- ---------- ---\n")
}

func TestStackDumpIndent(t *testing.T) {
	v := &nwscript.Variable{ID: 1, Type: nwscript.VarInt}

	ins := &nwscript.Instruction{
		Address: 0,
		Opcode:  nwscript.OpRETN,
		Bytes:   []byte{0x20, 0x00},
		Stack:   []nwscript.StackSlot{{Variable: v}},
	}

	p := &nwscript.Program{
		Size:          2,
		Instructions:  []*nwscript.Instruction{ins},
		StackAnalyzed: true,
	}

	var buf bytes.Buffer

	err := New(p).CreateListing(context.Background(), &buf, true)
	require.NoError(t, err)

	require.Contains(t, buf.String(), strings.Repeat(" ", 36)+"; .--- Stack:")
}

func TestNoStackDumpWithoutAnalysis(t *testing.T) {
	v := &nwscript.Variable{ID: 1, Type: nwscript.VarInt}

	ins := &nwscript.Instruction{
		Address: 0,
		Opcode:  nwscript.OpRETN,
		Bytes:   []byte{0x20, 0x00},
		Stack:   []nwscript.StackSlot{{Variable: v}},
	}

	p := &nwscript.Program{
		Size:         2,
		Instructions: []*nwscript.Instruction{ins},
	}

	var buf bytes.Buffer

	err := New(p).CreateListing(context.Background(), &buf, true)
	require.NoError(t, err)

	require.NotContains(t, buf.String(), "Stack:")
}

func TestEmitTwiceIdentical(t *testing.T) {
	p := singleRetn()
	p.Game = nwscript.GameNWN

	var a, b bytes.Buffer

	d := New(p)

	require.NoError(t, d.CreateListing(context.Background(), &a, false))
	require.NoError(t, d.CreateListing(context.Background(), &b, false))

	require.Equal(t, a.Bytes(), b.Bytes())
}

func TestWriteErrorPropagates(t *testing.T) {
	err := New(singleRetn()).CreateListing(context.Background(), errSink{}, false)
	require.Error(t, err)
}
