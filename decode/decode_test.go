package decode_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rtedbg/rtemsg/decode"
	"github.com/rtedbg/rtemsg/fidalloc"
	"github.com/rtedbg/rtemsg/format"
	"github.com/rtedbg/rtemsg/parser"
)

func fmtWord(fid format.FID, shift uint) uint32 {
	return 1 | (uint32(fid) << shift)
}

func TestReassemblerSingleSubpacketMessage(t *testing.T) {
	alloc, err := fidalloc.New(9)
	if err != nil {
		t.Fatalf("fidalloc.New: %v", err)
	}
	plan := &format.Plan{Name: "PING", Kind: format.Msg0to8, ExpectedLenBytes: 4}
	fid, err := alloc.Allocate(2, plan)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	counters := decode.NewCounters()
	words := []uint32{42, fmtWord(fid, 23)}
	r := decode.New(words, alloc, 9, counters)

	asm, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if asm.FID != fid || len(asm.Words) != 1 || asm.Words[0] != 42 {
		t.Errorf("asm = %+v, want fid %d, words [42]", asm, fid)
	}

	if _, err := r.Next(); err != decode.ErrEOF {
		t.Errorf("second Next() = %v, want ErrEOF", err)
	}
}

func TestReassemblerBadBlockOnStaleSentinel(t *testing.T) {
	alloc, err := fidalloc.New(9)
	if err != nil {
		t.Fatalf("fidalloc.New: %v", err)
	}
	counters := decode.NewCounters()
	// a DATA word followed immediately by the empty sentinel, with no
	// closing FMT word, is a bad block (spec.md §4.4 step 1).
	words := []uint32{10, decode.EmptySentinel}
	r := decode.New(words, alloc, 9, counters)

	if _, err := r.Next(); err != decode.ErrEOF {
		t.Fatalf("Next() = %v, want ErrEOF after the bad block is skipped", err)
	}
	if counters.Count(decode.CodeBadBlock) != 1 {
		t.Errorf("bad-block count = %d, want 1", counters.Count(decode.CodeBadBlock))
	}
}

func TestReassemblerUnfinishedBlockSkipsSentinelRun(t *testing.T) {
	alloc, err := fidalloc.New(9)
	if err != nil {
		t.Fatalf("fidalloc.New: %v", err)
	}
	plan := &format.Plan{Name: "PING", Kind: format.Msg0to8, ExpectedLenBytes: 0}
	fid, err := alloc.Allocate(1, plan)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	counters := decode.NewCounters()
	words := []uint32{decode.EmptySentinel, decode.EmptySentinel, fmtWord(fid, 23)}
	r := decode.New(words, alloc, 9, counters)

	asm, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if asm.FID != fid || len(asm.Words) != 0 {
		t.Errorf("asm = %+v, want fid %d with no data words", asm, fid)
	}
	if counters.Count(decode.CodeUnfinishedBlock) != 1 {
		t.Errorf("unfinished-block count = %d, want 1", counters.Count(decode.CodeUnfinishedBlock))
	}
}

func TestFinalizeMsgXTrimsToSizeByte(t *testing.T) {
	// spec.md §8 scenario 3: 2 data words, payload "hello" (5 bytes), the
	// last byte of the last word holds the size (5), with 2 zero padding
	// bytes ahead of it.
	words := []uint32{
		uint32('h') | uint32('e')<<8 | uint32('l')<<16 | uint32('l')<<24,
		uint32('o') | uint32(0)<<8 | uint32(0)<<16 | uint32(5)<<24,
	}

	out, err := decode.FinalizeMsgX(words)
	if err != nil {
		t.Fatalf("FinalizeMsgX: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("FinalizeMsgX = %q, want %q", out, "hello")
	}
}

func TestFinalizeMsgXRejectsNonZeroPadding(t *testing.T) {
	words := []uint32{
		uint32('h') | uint32('e')<<8 | uint32('l')<<16 | uint32('l')<<24,
		uint32('o') | uint32('!')<<8 | uint32(0)<<16 | uint32(5)<<24,
	}

	if _, err := decode.FinalizeMsgX(words); err == nil {
		t.Fatal("FinalizeMsgX: want an error for non-zero padding, got nil")
	}
}

func TestReconstructorAcceptsForwardProgress(t *testing.T) {
	r := decode.NewReconstructor(1000)
	res := r.Accept(1000, 1)
	if res.OutOfOrder || res.GapFlagged {
		t.Errorf("res = %+v, want a clean forward accept", res)
	}
	if res.Seconds != 1.0 {
		t.Errorf("seconds = %v, want 1.0", res.Seconds)
	}
}

func TestReconstructorWrapAroundIncrementsHighWord(t *testing.T) {
	r := decode.NewReconstructor(1000)
	// Walk tstamp_l_old up to near the top of the range in forward steps
	// no larger than MaxPos, then present a value near zero: the plain
	// (non-modular) diff is a huge negative number close to -Period, which
	// spec.md §4.5's wrap-around row is keyed on. Message 4 is far enough
	// from message 0 for the wrap to bump tstamp_h.
	r.Accept(0x50000000, 1)
	r.Accept(0xA0000000, 2)
	r.Accept(0xF0000000, 3)

	wrapped := uint32(0x10)
	res := r.Accept(wrapped, 4)
	if res.GapFlagged {
		t.Errorf("res = %+v, want a recognized wrap-around, not a flagged gap", res)
	}
	want := float64(uint64(1)<<32|uint64(wrapped)) / 1000
	if res.Seconds != want {
		t.Errorf("seconds = %v, want %v (tstamp_h incremented to 1)", res.Seconds, want)
	}
}

func TestReconstructorOutOfOrderDoesNotAdvance(t *testing.T) {
	r := decode.NewReconstructor(1000)
	r.Accept(1000, 1)
	res := r.Accept(900, 2)
	if !res.OutOfOrder {
		t.Errorf("res = %+v, want out-of-order", res)
	}
	// tstamp_l_old must not have moved backward.
	res2 := r.Accept(1001, 3)
	if res2.OutOfOrder || res2.GapFlagged {
		t.Errorf("res2 = %+v, want a clean forward accept from the original position", res2)
	}
}

func TestReconstructorLongTimestampRestart(t *testing.T) {
	r := decode.NewReconstructor(1000)
	r.Accept(1000, 1)
	r.LongTimestamp(decode.RestartTiming, 2)
	res := r.Accept(0, 3)
	if res.Seconds != 0 {
		t.Errorf("seconds after restart = %v, want 0", res.Seconds)
	}
}

func writeFmtFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "m.fmt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestDecodeEndToEndMinimalMessage(t *testing.T) {
	dir := t.TempDir()
	path := writeFmtFile(t, dir, strings.Join([]string{
		`// MSG1_PING`,
		`// "ping=%d\n"`,
		``,
	}, "\n"))

	c, err := parser.NewCompiler(parser.Options{IDBits: 9})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(path); err != nil {
		t.Fatalf("CompileRoot: %v", err)
	}
	if c.Errors().HasErrors() {
		t.Fatalf("unexpected parse errors:\n%s", c.Errors().Error())
	}
	res := c.Result()

	var plan *format.Plan
	for _, p := range res.Plans {
		if p.Name == "PING" {
			plan = p
		}
	}
	if plan == nil {
		t.Fatal("plan PING not found")
	}

	outDir := t.TempDir()
	outputs, err := decode.OpenOutputSet(outDir, false, false)
	if err != nil {
		t.Fatalf("OpenOutputSet: %v", err)
	}

	d := decode.NewDecoder(res, outputs, decode.Options{TicksPerSecond: 1})
	words := []uint32{42, fmtWord(plan.BaseFID, 23)}
	if err := d.Run(words); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := outputs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(outDir, "Main.log"))
	if err != nil {
		t.Fatalf("reading Main.log: %v", err)
	}
	if !strings.Contains(string(content), "ping=42") {
		t.Errorf("Main.log = %q, want it to contain %q", content, "ping=42")
	}
	if plan.Instances != 1 {
		t.Errorf("plan.Instances = %d, want 1", plan.Instances)
	}
}

func TestTopByFrequencyRanksDescending(t *testing.T) {
	plans := []*format.Plan{
		{Name: "A", Instances: 5},
		{Name: "B", Instances: 20},
		{Name: "C", Instances: 0},
	}
	top := decode.TopByFrequency(plans)
	if len(top) != 2 {
		t.Fatalf("top = %+v, want 2 entries (C has zero instances)", top)
	}
	if top[0].Name != "B" || top[1].Name != "A" {
		t.Errorf("top = %+v, want [B A]", top)
	}
}
