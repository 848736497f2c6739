package parser_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rtedbg/rtemsg/format"
	"github.com/rtedbg/rtemsg/parser"
)

func writeFmt(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func compileOK(t *testing.T, opts parser.Options, path string) parser.Result {
	t.Helper()
	c, err := parser.NewCompiler(opts)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(path); err != nil {
		t.Fatalf("CompileRoot: %v", err)
	}
	if c.Errors().HasErrors() {
		t.Fatalf("unexpected parse errors:\n%s", c.Errors().Error())
	}
	return c.Result()
}

func planNamed(res parser.Result, name string) *format.Plan {
	for _, p := range res.Plans {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func TestCompileMinimalMessage(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// MSG2_HELLO`,
		`// "value=%d\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9}, path)
	p := planNamed(res, "HELLO")
	if p == nil {
		t.Fatalf("plan HELLO not found among %d plans", len(res.Plans))
	}
	if p.Kind != format.Msg0to8 || p.ExpectedLenBytes != 8 {
		t.Errorf("HELLO kind=%v len=%d, want Msg0to8/8", p.Kind, p.ExpectedLenBytes)
	}
	var numeric *format.ValueSlot
	for i := range p.Slots {
		if p.Slots[i].PrintKind == format.PrintInt64 {
			numeric = &p.Slots[i]
		}
	}
	if numeric == nil {
		t.Fatal("expected a PrintInt64 slot")
	}
	if numeric.ValueKind != format.ValueAuto || numeric.BitAddress != 0 || numeric.DataBits != 32 {
		t.Errorf("numeric slot = %+v, want default 32-bit AUTO at bit 0", numeric)
	}
}

func TestCompileBitFieldWithScale(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// MSG1_TEMP`,
		`// "temp=%[16<i>](-40*0.1)d C\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9}, path)
	p := planNamed(res, "TEMP")
	if p == nil {
		t.Fatal("plan TEMP not found")
	}
	var slot *format.ValueSlot
	for i := range p.Slots {
		if p.Slots[i].PrintKind == format.PrintInt64 {
			slot = &p.Slots[i]
		}
	}
	if slot == nil {
		t.Fatal("expected a PrintInt64 slot")
	}
	if slot.DataBits != 16 || slot.ValueKind != format.ValueInt64 {
		t.Errorf("slot = %+v, want 16-bit ValueInt64", slot)
	}
	if !slot.HasScale || slot.ScaleOffset != -40 || slot.ScaleMultiplier != 0.1 {
		t.Errorf("scale = offset %v mult %v, want -40/0.1", slot.ScaleOffset, slot.ScaleMultiplier)
	}
	if slot.TrailingText != " C\n" {
		t.Errorf("trailing text = %q, want %q", slot.TrailingText, " C\n")
	}
}

func TestCompileMsgXWholeMessageString(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// MSGX_TEXT`,
		`// "msg=%s\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9}, path)
	p := planNamed(res, "TEXT")
	if p == nil || p.Kind != format.MsgX {
		t.Fatalf("plan TEXT = %+v, want MsgX", p)
	}
	var slot *format.ValueSlot
	for i := range p.Slots {
		if p.Slots[i].PrintKind == format.PrintString {
			slot = &p.Slots[i]
		}
	}
	if slot == nil {
		t.Fatal("expected a PrintString slot")
	}
	if slot.ValueKind != format.ValueString || slot.DataBits != 0 {
		t.Errorf("slot = %+v, want whole-message STRING (data_bits 0)", slot)
	}
}

func TestCompileInlineIndexedText(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// MSG1_STATE`,
		`// "state=%{ON|OFF}Y\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9}, path)
	p := planNamed(res, "STATE")
	var slot *format.ValueSlot
	for i := range p.Slots {
		if p.Slots[i].PrintKind == format.PrintSelectedText {
			slot = &p.Slots[i]
		}
	}
	if slot == nil {
		t.Fatal("expected a PrintSelectedText slot")
	}
	if len(slot.InlineText) != 2 || string(slot.InlineText[0]) != "ON" || string(slot.InlineText[1]) != "OFF" {
		t.Errorf("inline text = %v, want [ON OFF]", slot.InlineText)
	}
}

func TestCompileOutFileAndSelector(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// OUT_FILE(AUX,"aux.log","w")`,
		`// MSG0_PING`,
		`// >AUX`,
		`// "ping\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9, OutputDir: dir}, path)
	p := planNamed(res, "PING")
	if p == nil {
		t.Fatal("plan PING not found")
	}
	if len(p.Slots) != 1 || p.Slots[0].OutFile == 0 {
		t.Fatalf("PING slots = %+v, want a single slot routed to a non-zero out_file", p.Slots)
	}
	if _, err := os.Stat(filepath.Join(dir, "aux.log")); err != nil {
		t.Errorf("aux.log was not created: %v", err)
	}
}

func TestCompileDuplicateMessageNameIsParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// MSG0_PING`,
		`// "a\n"`,
		`// MSG0_PING`,
		`// "b\n"`,
		``,
	}, "\n"))

	c, err := parser.NewCompiler(parser.Options{IDBits: 9})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(path); err != nil {
		t.Fatalf("CompileRoot: %v", err)
	}
	if !c.Errors().HasErrors() {
		t.Fatal("expected a duplicate-name parse error")
	}
}

func TestCompileNumericSlotKeepsPrintfVerb(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// MSG1_PING`,
		`// "ping=%d\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9}, path)
	p := planNamed(res, "PING")
	var slot *format.ValueSlot
	for i := range p.Slots {
		if p.Slots[i].PrintKind == format.PrintInt64 {
			slot = &p.Slots[i]
		}
	}
	if slot == nil {
		t.Fatal("expected a PrintInt64 slot")
	}
	if slot.FormatString != "%d" {
		t.Errorf("FormatString = %q, want %q", slot.FormatString, "%d")
	}
}

// TestCompileOutFileSwitchResetsBitCursor exercises spec.md §4.2.2's "the
// running bit cursor... resets to zero on a new MSG or on an output-file
// change within the same message". Without the reset, the second slot's
// implicit 32-bit value would sit at a non-32-aligned cursor (8) and fail
// to compile; with it, the cursor is back at 0 and the message compiles.
func TestCompileOutFileSwitchResetsBitCursor(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// OUT_FILE(AUX,"aux.log","w")`,
		`// MSG2_TEMP`,
		`// "x=%[0:8]u\n"`,
		`// >AUX`,
		`// "y=%d\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9, OutputDir: dir}, path)
	p := planNamed(res, "TEMP")
	if p == nil {
		t.Fatal("plan TEMP not found")
	}
	var secondNumeric *format.ValueSlot
	for i := range p.Slots {
		if p.Slots[i].PrintKind == format.PrintInt64 {
			secondNumeric = &p.Slots[i]
		}
	}
	if secondNumeric == nil {
		t.Fatal("expected a PrintInt64 slot from the second format string")
	}
	if secondNumeric.BitAddress != 0 {
		t.Errorf("BitAddress = %d, want 0 (cursor reset on output-file switch)", secondNumeric.BitAddress)
	}
}

func TestCompileUnknownDirectiveIsParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", "// NOT_A_REAL_DIRECTIVE(1)\n")

	c, err := parser.NewCompiler(parser.Options{IDBits: 9})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(path); err != nil {
		t.Fatalf("CompileRoot: %v", err)
	}
	if !c.Errors().HasErrors() {
		t.Fatal("expected an unknown-directive parse error")
	}
}

func TestCompileFormatStringWithNoPendingMessageIsParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", `// "orphan=%d\n"`+"\n")

	c, err := parser.NewCompiler(parser.Options{IDBits: 9})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(path); err != nil {
		t.Fatalf("CompileRoot: %v", err)
	}
	if !c.Errors().HasErrors() {
		t.Fatal("expected a parse error for an orphan format string")
	}
}

func TestCompileIncludeRecursion(t *testing.T) {
	dir := t.TempDir()
	writeFmt(t, dir, "child.fmt", strings.Join([]string{
		`// MSG0_FROM_CHILD`,
		`// "child\n"`,
		``,
	}, "\n"))
	root := writeFmt(t, dir, "root.fmt", strings.Join([]string{
		`// INCLUDE("child.fmt")`,
		`// MSG0_FROM_ROOT`,
		`// "root\n"`,
		``,
	}, "\n"))

	res := compileOK(t, parser.Options{IDBits: 9}, root)
	if planNamed(res, "FROM_CHILD") == nil || planNamed(res, "FROM_ROOT") == nil {
		t.Fatalf("expected both plans, got %d plans", len(res.Plans))
	}
}

func TestCompileCircularIncludeIsParseError(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fmt")
	b := filepath.Join(dir, "b.fmt")
	if err := os.WriteFile(a, []byte("// INCLUDE(\"b.fmt\")\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("// INCLUDE(\"a.fmt\")\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := parser.NewCompiler(parser.Options{IDBits: 9})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(a); err != nil {
		t.Fatalf("CompileRoot should report the cycle as a parse error, not a fatal error: %v", err)
	}
	if !c.Errors().HasErrors() {
		t.Fatal("expected a circular-INCLUDE parse error")
	}
}

func TestCompileCheckModeGeneratesHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeFmt(t, dir, "m.fmt", strings.Join([]string{
		`// FILTER(SYS_EVENTS)`,
		`// MSG0_PING`,
		`// "ping\n"`,
		``,
	}, "\n"))

	compileOK(t, parser.Options{IDBits: 9, CheckOnly: true}, path)

	header, err := os.ReadFile(path + ".h")
	if err != nil {
		t.Fatalf("reading generated header: %v", err)
	}
	if !strings.Contains(string(header), "#define SYS_EVENTS 0") {
		t.Errorf("header missing SYS_EVENTS define:\n%s", header)
	}
	if !strings.Contains(string(header), "#define PING ") {
		t.Errorf("header missing PING define:\n%s", header)
	}
}

func TestCompileAllocationOverflow(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	// idBits=9 -> topmost=510, reserved low block [0,4); allocate size-16
	// ranges until the space is exhausted, expecting an allocation error.
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Join([]string{
			"// MSG4_M" + itoa(i),
			`// "x\n"`,
		}, "\n"))
	}
	path := writeFmt(t, dir, "m.fmt", strings.Join(lines, "\n")+"\n")

	c, err := parser.NewCompiler(parser.Options{IDBits: 9})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	if err := c.CompileRoot(path); err != nil {
		t.Fatalf("CompileRoot: %v", err)
	}
	if !c.Errors().HasErrors() {
		t.Fatal("expected a format-id allocation overflow")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
