package visitor

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/michaelniu1990/profilo/internal/entries"
)

// PrintEntry is the terminal visitor: it writes one pipe-delimited line
// per entry to sink, matching the trace file's text format.
type PrintEntry struct {
	sink io.Writer
}

func standardFields(e entries.StandardEntry) []string {
	return []string{
		strconv.FormatInt(int64(e.ID), 10),
		strconv.FormatInt(int64(e.Type), 10),
		strconv.FormatInt(e.Timestamp, 10),
		strconv.FormatInt(int64(e.Tid), 10),
		strconv.FormatInt(int64(e.CallID), 10),
		strconv.FormatInt(int64(e.MatchID), 10),
		strconv.FormatInt(e.Extra, 10),
	}
}

func (p *PrintEntry) writeLine(fields []string) error {
	_, err := fmt.Fprintln(p.sink, strings.Join(fields, "|"))
	return err
}

func (p *PrintEntry) printStandard(e entries.StandardEntry) error {
	return p.writeLine(standardFields(e))
}

func (p *PrintEntry) printFrames(e entries.FramesEntry) error {
	fields := standardFields(e.StandardEntry)
	fields = append(fields, strconv.Itoa(len(e.Frames)))
	for _, f := range e.Frames {
		fields = append(fields, strconv.FormatInt(f, 10))
	}
	return p.writeLine(fields)
}

func (p *PrintEntry) printBytes(e entries.BytesEntry) error {
	fields := standardFields(e.StandardEntry)
	fields = append(fields, strconv.Itoa(len(e.Bytes)), hex.EncodeToString(e.Bytes))
	return p.writeLine(fields)
}

// Pipeline chains the non-terminal stages ahead of a PrintEntry sink
// and dispatches each reassembled entry through them by concrete
// shape.
type Pipeline struct {
	stages []Stage
	sink   *PrintEntry
}

// New builds the standard pipeline order: stack inversion, then
// timestamp truncation, then delta encoding, ending in textual
// emission to w.
func New(precision int64, w io.Writer) *Pipeline {
	return &Pipeline{
		stages: []Stage{
			StackTraceInverting{},
			TimestampTruncating{Precision: precision},
			&DeltaEncoding{},
		},
		sink: &PrintEntry{sink: w},
	}
}

// Visit runs u through every stage in order and then the terminal
// sink, dispatching on u's concrete shape.
func (p *Pipeline) Visit(u entries.Unpacked) error {
	switch {
	case u.Frames != nil:
		f := *u.Frames
		for _, s := range p.stages {
			s.VisitFrames(&f)
		}
		return p.sink.printFrames(f)

	case u.Bytes != nil:
		b := *u.Bytes
		for _, s := range p.stages {
			s.VisitBytes(&b)
		}
		return p.sink.printBytes(b)

	case u.Standard != nil:
		s := *u.Standard
		for _, st := range p.stages {
			st.VisitStandard(&s)
		}
		return p.sink.printStandard(s)

	default:
		return nil
	}
}
