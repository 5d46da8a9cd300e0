package main

import (
	"context"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nwtools/ncsdis/nwscript"
	"github.com/nwtools/ncsdis/nwscript/decode"
	"github.com/nwtools/ncsdis/nwscript/disasm"
)

func main() {
	listCmd := &cli.Command{
		Name:        "list",
		Description: "full disassembly listing with addresses and raw bytes",
		Action:      modeAct(listMode),
		Args:        cli.Args{},
	}

	asmCmd := &cli.Command{
		Name:        "asm",
		Description: "bare disassembly output",
		Action:      modeAct(asmMode),
		Args:        cli.Args{},
	}

	dotCmd := &cli.Command{
		Name:        "dot",
		Description: "graphviz dot control flow graph",
		Action:      modeAct(dotMode),
		Args:        cli.Args{},
	}

	nssCmd := &cli.Command{
		Name:        "nss",
		Description: "partial source reconstruction",
		Action:      modeAct(nssMode),
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "ncsdis",
		Description: "ncsdis disassembles compiled NWScript bytecode. Args: [game=nwn] [+stack] [+controls] file.ncs...",
		Commands: []*cli.Command{
			listCmd,
			asmCmd,
			dotCmd,
			nssCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

type mode int

const (
	listMode mode = iota
	asmMode
	dotMode
	nssMode
)

func modeAct(m mode) func(c *cli.Command) error {
	return func(c *cli.Command) error {
		ctx := context.Background()
		ctx = tlog.ContextWithSpan(ctx, tlog.Root())

		game := nwscript.GameNWN
		stack := false
		controls := false

		for _, a := range c.Args {
			switch {
			case a == "+stack":
				stack = true
				continue
			case a == "+controls":
				controls = true
				continue
			case len(a) > 5 && a[:5] == "game=":
				g, ok := nwscript.ParseGameID(a[5:])
				if !ok {
					return errors.New("unknown game: %v", a[5:])
				}

				game = g
				continue
			}

			err := run(ctx, m, a, game, stack, controls)
			if err != nil {
				return errors.Wrap(err, "%v", a)
			}
		}

		return nil
	}
}

func run(ctx context.Context, m mode, name string, game nwscript.GameID, stack, controls bool) error {
	p, err := decode.DecodeFile(ctx, name, game)
	if err != nil {
		return errors.Wrap(err, "decode")
	}

	d := disasm.New(p)

	switch m {
	case listMode:
		err = d.CreateListing(ctx, os.Stdout, stack)
	case asmMode:
		err = d.CreateAssembly(ctx, os.Stdout, stack)
	case dotMode:
		err = d.CreateDot(ctx, os.Stdout, controls)
	case nssMode:
		err = d.CreateNSS(ctx, os.Stdout)
	}

	if err != nil {
		return errors.Wrap(err, "disassemble")
	}

	return nil
}
