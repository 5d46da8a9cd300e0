package decode

import (
	"context"
	"encoding/binary"
	"math"
	"os"

	"github.com/go-restruct/restruct"
	"golang.org/x/text/encoding/charmap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nwtools/ncsdis/nwscript"
)

type (
	// header is the fixed 13 byte NCS file prologue: the version magic
	// followed by the T instruction carrying the total program size.
	header struct {
		Magic [8]byte
		Tag   byte
		Size  uint32
	}

	reader struct {
		b []byte
		i int
	}

	state struct {
		game nwscript.GameID
		size uint32

		instructions []*nwscript.Instruction
		byAddress    map[uint32]*nwscript.Instruction
	}
)

const headerSize = 13

const sizeTag = 0x42

var magic = [8]byte{'N', 'C', 'S', ' ', 'V', '1', '.', '0'}

// DecodeFile reads and decodes a compiled NCS script.
func DecodeFile(ctx context.Context, name string, game nwscript.GameID) (*nwscript.Program, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Decode(ctx, data, game)
}

// Decode parses NCS bytecode into the program model: instructions,
// basic blocks and subroutines. Stack analysis is not performed.
func Decode(ctx context.Context, data []byte, game nwscript.GameID) (p *nwscript.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "decode ncs", "size", len(data), "game", game)
	defer tr.Finish("err", &err)

	h, err := decodeHeader(data)
	if err != nil {
		return nil, errors.Wrap(err, "header")
	}

	s := &state{
		game:      game,
		size:      h.Size,
		byAddress: map[uint32]*nwscript.Instruction{},
	}

	err = s.decodeInstructions(data)
	if err != nil {
		return nil, errors.Wrap(err, "instructions")
	}

	err = s.link()
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}

	p = &nwscript.Program{
		Game:         game,
		Size:         h.Size,
		Instructions: s.instructions,
	}

	err = buildFlow(ctx, p, s)
	if err != nil {
		return nil, errors.Wrap(err, "control flow")
	}

	tr.Printw("decoded", "instructions", len(p.Instructions), "blocks", len(p.Blocks), "subroutines", len(p.SubRoutines))

	return p, nil
}

func decodeHeader(data []byte) (h header, err error) {
	if len(data) < headerSize {
		return h, errors.New("file too short: %d bytes", len(data))
	}

	err = restruct.Unpack(data[:headerSize], binary.BigEndian, &h)
	if err != nil {
		return h, errors.Wrap(err, "unpack")
	}

	if h.Magic != magic {
		return h, errors.New("not an NCS file")
	}

	if h.Tag != sizeTag {
		return h, errors.New("expected size opcode, got %02X", h.Tag)
	}

	if int(h.Size) > len(data) {
		return h, errors.New("program size %d exceeds file size %d", h.Size, len(data))
	}

	return h, nil
}

func (s *state) decodeInstructions(data []byte) error {
	r := &reader{b: data[:s.size], i: headerSize}

	for r.left() > 0 {
		ins, err := s.decodeInstruction(r)
		if err != nil {
			return errors.Wrap(err, "at %08x", ins.Address)
		}

		s.instructions = append(s.instructions, ins)
		s.byAddress[ins.Address] = ins
	}

	if len(s.instructions) == 0 {
		return errors.New("no instructions")
	}

	return nil
}

func (s *state) decodeInstruction(r *reader) (ins *nwscript.Instruction, err error) {
	start := r.i

	ins = &nwscript.Instruction{
		Address: uint32(start),
	}

	op, err := r.byte()
	if err != nil {
		return ins, errors.Wrap(err, "opcode")
	}

	tp, err := r.byte()
	if err != nil {
		return ins, errors.Wrap(err, "type")
	}

	ins.Opcode = nwscript.Opcode(op)
	ins.Type = nwscript.InstType(tp)

	err = s.decodeOperands(r, ins)
	if err != nil {
		return ins, err
	}

	ins.Bytes = r.b[start:r.i]

	return ins, nil
}

func (s *state) decodeOperands(r *reader, ins *nwscript.Instruction) (err error) {
	switch ins.Opcode {
	case nwscript.OpCPDOWNSP, nwscript.OpCPTOPSP, nwscript.OpCPDOWNBP, nwscript.OpCPTOPBP:
		off, err := r.int32()
		if err != nil {
			return errors.Wrap(err, "offset")
		}

		size, err := r.uint16()
		if err != nil {
			return errors.Wrap(err, "size")
		}

		ins.Args = []int32{off, int32(size)}

	case nwscript.OpCONST:
		err = s.decodeConst(r, ins)
		if err != nil {
			return errors.Wrap(err, "const")
		}

	case nwscript.OpACTION:
		id, err := r.uint16()
		if err != nil {
			return errors.Wrap(err, "routine")
		}

		argc, err := r.byte()
		if err != nil {
			return errors.Wrap(err, "arg count")
		}

		ins.Args = []int32{int32(id), int32(argc)}

	case nwscript.OpMOVSP, nwscript.OpDECSP, nwscript.OpINCSP, nwscript.OpDECBP, nwscript.OpINCBP:
		off, err := r.int32()
		if err != nil {
			return errors.Wrap(err, "offset")
		}

		ins.Args = []int32{off}

	case nwscript.OpJMP, nwscript.OpJSR, nwscript.OpJZ, nwscript.OpJNZ:
		off, err := r.int32()
		if err != nil {
			return errors.Wrap(err, "offset")
		}

		ins.Args = []int32{off}

	case nwscript.OpDESTRUCT:
		total, err := r.uint16()
		if err != nil {
			return errors.Wrap(err, "total size")
		}

		off, err := r.int16()
		if err != nil {
			return errors.Wrap(err, "save offset")
		}

		size, err := r.uint16()
		if err != nil {
			return errors.Wrap(err, "save size")
		}

		ins.Args = []int32{int32(total), int32(off), int32(size)}

	case nwscript.OpSTORESTATE:
		bp, err := r.uint32()
		if err != nil {
			return errors.Wrap(err, "bp size")
		}

		sp, err := r.uint32()
		if err != nil {
			return errors.Wrap(err, "sp size")
		}

		ins.Args = []int32{int32(bp), int32(sp)}

	case nwscript.OpEQ, nwscript.OpNEQ:
		if ins.Type == nwscript.TypeStructStruct {
			size, err := r.uint16()
			if err != nil {
				return errors.Wrap(err, "struct size")
			}

			ins.Args = []int32{int32(size)}
		}

	case nwscript.OpRSADD, nwscript.OpLOGAND, nwscript.OpLOGOR, nwscript.OpINCOR,
		nwscript.OpEXCOR, nwscript.OpBOOLAND, nwscript.OpGEQ, nwscript.OpGT,
		nwscript.OpLT, nwscript.OpLEQ, nwscript.OpSHLEFT, nwscript.OpSHRIGHT,
		nwscript.OpUSHRIGHT, nwscript.OpADD, nwscript.OpSUB, nwscript.OpMUL,
		nwscript.OpDIV, nwscript.OpMOD, nwscript.OpNEG, nwscript.OpCOMP,
		nwscript.OpSTORESTATEALL, nwscript.OpRETN, nwscript.OpNOT,
		nwscript.OpSAVEBP, nwscript.OpRESTOREBP, nwscript.OpNOP:
		// no operands

	default:
		return errors.New("invalid opcode %02X", byte(ins.Opcode))
	}

	return nil
}

func (s *state) decodeConst(r *reader, ins *nwscript.Instruction) error {
	switch ins.Type {
	case nwscript.TypeInt, nwscript.TypeObject:
		v, err := r.int32()
		if err != nil {
			return errors.Wrap(err, "value")
		}

		ins.Args = []int32{v}

	case nwscript.TypeFloat:
		v, err := r.uint32()
		if err != nil {
			return errors.Wrap(err, "value")
		}

		ins.ArgFloat = math.Float32frombits(v)

	case nwscript.TypeString:
		size, err := r.uint16()
		if err != nil {
			return errors.Wrap(err, "length")
		}

		raw, err := r.bytes(int(size))
		if err != nil {
			return errors.Wrap(err, "data")
		}

		// Aurora scripts store strings in the Windows-1252 codepage.
		dec, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return errors.Wrap(err, "decode string")
		}

		ins.ArgString = string(dec)

	default:
		return errors.New("unsupported constant type %02X", byte(ins.Type))
	}

	return nil
}

// link resolves followers, branch targets and address types.
func (s *state) link() error {
	for n, ins := range s.instructions {
		if ins.Opcode != nwscript.OpJMP && ins.Opcode != nwscript.OpRETN && n+1 < len(s.instructions) {
			ins.Follower = s.instructions[n+1]
		}

		target, ok, err := s.branchTarget(ins)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		ins.Branches = append(ins.Branches, target)

		switch ins.Opcode {
		case nwscript.OpJSR:
			target.AddressType = nwscript.AddressSubRoutine
		case nwscript.OpSTORESTATE, nwscript.OpSTORESTATEALL:
			target.AddressType = nwscript.AddressStoreState
		default:
			if target.AddressType == nwscript.AddressNone {
				target.AddressType = nwscript.AddressJumpTarget
			}
		}
	}

	entry := s.instructions[0]
	if entry.AddressType == nwscript.AddressNone {
		entry.AddressType = nwscript.AddressSubRoutine
	}

	return nil
}

func (s *state) branchTarget(ins *nwscript.Instruction) (*nwscript.Instruction, bool, error) {
	var addr uint32

	switch ins.Opcode {
	case nwscript.OpJMP, nwscript.OpJSR, nwscript.OpJZ, nwscript.OpJNZ:
		addr = uint32(int64(ins.Address) + int64(ins.Args[0]))
	case nwscript.OpSTORESTATE, nwscript.OpSTORESTATEALL:
		addr = ins.Address + uint32(ins.Type)
	default:
		return nil, false, nil
	}

	target, ok := s.byAddress[addr]
	if !ok {
		return nil, false, errors.New("%v at %08x: branch into the void: %08x",
			nwscript.OpcodeName(ins.Opcode), ins.Address, addr)
	}

	return target, true, nil
}

func (r *reader) left() int { return len(r.b) - r.i }

func (r *reader) byte() (byte, error) {
	if r.left() < 1 {
		return 0, errors.New("unexpected end of data")
	}

	c := r.b[r.i]
	r.i++

	return c, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.left() < n {
		return nil, errors.New("unexpected end of data")
	}

	b := r.b[r.i : r.i+n]
	r.i += n

	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) int16() (int16, error) {
	v, err := r.uint16()
	return int16(v), err
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}
