package disasm

import (
	"context"
	"io"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/nwtools/ncsdis/nwscript"
)

// maxNodeSize caps instructions per dot node; larger blocks are split.
const maxNodeSize = 10

var controlTags = map[nwscript.ControlType]string{
	nwscript.ControlNone:        "<NONE>",
	nwscript.ControlDoWhileHead: "<DOWHILEHEAD>",
	nwscript.ControlDoWhileTail: "<DOWHILETAIL>",
	nwscript.ControlDoWhileNext: "<DOWHILENEXT>",
	nwscript.ControlWhileHead:   "<WHILEHEAD>",
	nwscript.ControlWhileTail:   "<WHILETAIL>",
	nwscript.ControlWhileNext:   "<WHILENEXT>",
	nwscript.ControlBreak:       "<BREAK>",
	nwscript.ControlContinue:    "<CONTINUE>",
	nwscript.ControlReturn:      "<RETURN>",
	nwscript.ControlIfCond:      "<IFCOND>",
	nwscript.ControlIfTrue:      "<IFTRUE>",
	nwscript.ControlIfElse:      "<IFELSE>",
	nwscript.ControlIfNext:      "<IFNEXT>",
}

var edgeColors = map[nwscript.BlockEdgeType]string{
	nwscript.EdgeUnconditional:    "color=blue",
	nwscript.EdgeConditionalTrue:  "color=green",
	nwscript.EdgeConditionalFalse: "color=red",
	nwscript.EdgeSubRoutineCall:   "color=cyan",
	nwscript.EdgeSubRoutineTail:   "color=orange",
	nwscript.EdgeSubRoutineStore:  "color=purple",
	nwscript.EdgeDead:             "color=gray40",
}

// CreateDot writes a graphviz dot file plotting the control flow graph,
// one cluster per subroutine, one or more box nodes per block.
func (d *Disassembler) CreateDot(ctx context.Context, w io.Writer, printControlTypes bool) (err error) {
	tr := tlog.SpanFromContext(ctx)
	tr.Printw("create dot", "blocks", len(d.ncs.Blocks), "subroutines", len(d.ncs.SubRoutines))

	var b []byte

	b = append(b, "digraph {\n"...)
	b = append(b, "  overlap=false\n"...)
	b = append(b, "  concentrate=true\n"...)
	b = append(b, "  splines=ortho\n\n"...)

	b, err = flush(w, b)
	if err != nil {
		return err
	}

	err = d.writeDotClusters(w, printControlTypes)
	if err != nil {
		return errors.Wrap(err, "clusters")
	}

	err = d.writeDotEdges(w)
	if err != nil {
		return errors.Wrap(err, "edges")
	}

	_, err = flush(w, []byte("}\n"))

	return err
}

func (d *Disassembler) writeDotClusters(w io.Writer, printControlTypes bool) (err error) {
	var b []byte

	for _, sub := range d.ncs.SubRoutines {
		if len(sub.Blocks) == 0 || len(sub.Blocks[0].Instructions) == 0 {
			continue
		}

		b = hfmt.Appendf(b, "  subgraph cluster_s%08X {\n    style=filled\n    color=lightgrey\n", sub.Address)

		label := d.subRoutineSignature(sub)
		if label == "" {
			label = nwscript.FormatSubRoutineName(sub)
		}
		if label == "" {
			label = nwscript.FormatJumpDestination(sub.Address)
		}

		b = hfmt.Appendf(b, "    label=\"%s\"\n\n", label)

		b, err = flush(w, b)
		if err != nil {
			return errors.Wrap(err, "subroutine %08x", sub.Address)
		}

		err = d.writeDotBlocks(w, printControlTypes, sub.Blocks)
		if err != nil {
			return errors.Wrap(err, "subroutine %08x", sub.Address)
		}

		_, err = flush(w, []byte("  }\n\n"))
		if err != nil {
			return errors.Wrap(err, "subroutine %08x", sub.Address)
		}
	}

	return nil
}

// nodesPerBlock is how many dot nodes a block is divided into.
func nodesPerBlock(instructions int) int {
	n := (instructions + maxNodeSize - 1) / maxNodeSize
	if n < 1 {
		n = 1
	}

	return n
}

func blockControl(b *nwscript.Block) string {
	var sb strings.Builder

	for _, c := range b.Controls {
		tag, ok := controlTags[c.Type]
		if !ok {
			tag = "<>"
		}

		sb.WriteString(tag)
		sb.WriteString(`\n`)
	}

	if sb.Len() != 0 {
		sb.WriteString(`\n`)
	}

	return sb.String()
}

// quoteLabel escapes a string for use inside a dot label.
func quoteLabel(s string) string {
	var sb strings.Builder

	for _, c := range s {
		switch c {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		default:
			sb.WriteRune(c)
		}
	}

	return sb.String()
}

func (d *Disassembler) writeDotBlocks(w io.Writer, printControlTypes bool, blocks []*nwscript.Block) (err error) {
	var b []byte

	for bn, block := range blocks {
		// Huge blocks are split over several equal sized nodes so
		// they do not wreck the graph layout.
		nodeCount := nodesPerBlock(len(block.Instructions))
		linesPerNode := (len(block.Instructions) + nodeCount - 1) / nodeCount

		labels := make([]string, nodeCount)

		control := ""
		if printControlTypes {
			control = blockControl(block)
		}

		head := nwscript.FormatBlockLabelName(block)
		if head == "" && len(block.Instructions) > 0 {
			head = nwscript.FormatJumpDestination(block.Instructions[0].Address)
		}

		labels[0] = control + head + `:\l`

		for n, ins := range block.Instructions {
			labels[n/linesPerNode] += "  " + quoteLabel(nwscript.FormatInstruction(ins, d.ncs.Game)) + `\l`
		}

		for n, label := range labels {
			b = hfmt.Appendf(b, "    \"b%08X_%d\" [ shape=\"box\" label=\"%s\" ]\n", block.Address, n, label)
		}

		if len(labels) > 1 {
			for n := range labels {
				if n == 0 {
					b = append(b, "    "...)
				} else {
					b = append(b, " -> "...)
				}

				b = hfmt.Appendf(b, "b%08X_%d", block.Address, n)
			}

			b = append(b, " [ style=dotted ]\n"...)
		}

		if bn != len(blocks)-1 {
			b = append(b, '\n')
		}

		b, err = flush(w, b)
		if err != nil {
			return errors.Wrap(err, "block %08x", block.Address)
		}
	}

	return nil
}

func (d *Disassembler) writeDotEdges(w io.Writer) (err error) {
	var b []byte

	for _, block := range d.ncs.Blocks {
		assert(len(block.Children) == len(block.ChildrenTypes),
			"block %08x: %d children, %d edge types", block.Address, len(block.Children), len(block.ChildrenTypes))

		lastIndex := nodesPerBlock(len(block.Instructions)) - 1

		for n, child := range block.Children {
			b = hfmt.Appendf(b, "  b%08X_%d -> b%08X_0", block.Address, lastIndex, child.Address)

			attr, ok := edgeColors[block.ChildrenTypes[n]]
			if !ok {
				attr = edgeColors[nwscript.EdgeUnconditional]
			}

			// Jumps back are bold, edges crossing subroutines must
			// not pull the layout ranks together.
			if child.Address < block.Address {
				attr += " style=bold"
			}

			if block.SubRoutine != child.SubRoutine {
				attr += " constraint=false"
			}

			b = append(b, " [ "...)
			b = append(b, attr...)
			b = append(b, " ]\n"...)

			b, err = flush(w, b)
			if err != nil {
				return errors.Wrap(err, "block %08x", block.Address)
			}
		}
	}

	return nil
}
