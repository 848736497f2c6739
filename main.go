package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rtedbg/rtemsg/config"
	"github.com/rtedbg/rtemsg/decode"
	"github.com/rtedbg/rtemsg/format"
	"github.com/rtedbg/rtemsg/loader"
	"github.com/rtedbg/rtemsg/parser"
)

// Version information, overridable at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)

// Exit codes per spec.md §6.
const (
	exitOK                  = 0
	exitFormatParseErrors   = 1
	exitFatalDecodeError    = 2
	exitNonFatalDecodeError = 3
	exitParseException      = 5
	exitDecodeException     = 6
	exitBadArgs             = 10
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 1 && (args[0] == "-version" || args[0] == "--version") {
		fmt.Printf("rtemsg %s (%s)\n", Version, Commit)
		return exitOK
	}
	if len(args) == 0 {
		printUsage()
		return exitBadArgs
	}

	params, err := config.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtemsg: %v\n", err)
		printUsage()
		return exitBadArgs
	}

	prefs, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtemsg: %v\n", err)
		return exitBadArgs
	}
	if !params.UTF8Console {
		params.UTF8Console = prefs.Console.UTF8
	}
	if params.Locale == "" {
		params.Locale = prefs.Locale.Default
	}
	if params.UTF8Console {
		// spec.md §6 "-utf8: use UTF-8 codepage for console output":
		// a UTF-8 BOM primes consoles (notably Windows') that otherwise
		// default to the system codepage for redirected output.
		_, _ = os.Stdout.Write([]byte{0xEF, 0xBB, 0xBF})
	}
	prefs.Console.UTF8 = params.UTF8Console
	prefs.Locale.Default = params.Locale
	_ = prefs.Save()

	c, err := parser.NewCompiler(parser.Options{
		IDBits:    params.IDBits,
		CheckOnly: params.CheckOnly,
		Purge:     params.Purge,
		Backup:    params.KeepBackup,
		OutputDir: params.OutputFolder,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtemsg: %v\n", err)
		return exitBadArgs
	}

	if err := c.CompileRoot(params.FmtFolder); err != nil {
		fmt.Fprintf(os.Stderr, "rtemsg: %v\n", err)
		return exitParseException
	}

	if errs := c.Errors(); errs.HasErrors() {
		fmt.Fprint(os.Stderr, errs.RenderWith(params.ErrorTemplate))
		if params.CheckOnly {
			return exitFormatParseErrors
		}
		// spec.md §7: parse errors are reported but don't block decoding
		// outside check-only mode; whatever plans the compiler managed to
		// build are still used.
	}

	if params.CheckOnly {
		return exitOK
	}

	res := c.Result()

	outputs, err := decode.OpenOutputSet(params.OutputFolder, params.Debug, params.Timestamps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtemsg: %v\n", err)
		return exitBadArgs
	}
	defer outputs.Close()

	raw, err := os.ReadFile(params.BinaryFile) // #nosec G304 -- operator-supplied trace file
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtemsg: %v\n", err)
		return exitBadArgs
	}

	header, err := loader.ParseHeader(raw, params.IDBits)
	if err != nil {
		_ = outputs.ErrorsLog.WriteString("fatal: " + err.Error() + "\n")
		return exitFatalDecodeError
	}

	words, err := loader.Load(raw[loader.HeaderWords*4:], header)
	if err != nil {
		_ = outputs.ErrorsLog.WriteString("fatal: " + err.Error() + "\n")
		return exitFatalDecodeError
	}

	ticksPerSecond := float64(header.TimestampFrequency)
	switch params.TimeUnit {
	case config.TimeMilliseconds:
		ticksPerSecond /= 1000
	case config.TimeMicroseconds:
		ticksPerSecond /= 1_000_000
	}

	d := decode.NewDecoder(res, outputs, decode.Options{
		TimeTemplate:   params.TimeTemplate,
		NumberTemplate: params.NumberTemplate,
		Newline:        params.Newline,
		TicksPerSecond: ticksPerSecond,
		DecimalComma:   config.IsCommaDecimalLocale(params.Locale),
	})

	if err := d.Run(words); err != nil {
		_ = outputs.ErrorsLog.WriteString("fatal: " + err.Error() + "\n")
		return exitDecodeException
	}

	if params.Stats != config.StatNone {
		writeStatistics(outputs, res.Plans, params.Stats)
	}
	_ = outputs.FilterNamesTXT.WriteString(strings.Join(res.Enum.FilterNames(), "\n"))

	if d.Counters().Total() > 0 {
		return exitNonFatalDecodeError
	}
	return exitOK
}

func writeStatistics(outputs *decode.OutputSet, plans []*format.Plan, mode config.StatMode) {
	if mode == config.StatAll || mode == config.StatValue {
		_ = decode.DumpStatisticsCSV(outputs.StatMainLog, plans)
	}
	if mode == config.StatAll || mode == config.StatMsg {
		_ = decode.WriteLeaderboard(outputs.StatMainLog, "Top messages by frequency", decode.TopByFrequency(plans))
		_ = decode.WriteLeaderboard(outputs.StatMainLog, "Top messages by buffer usage", decode.TopByBufferUsage(plans))
		_ = decode.DumpMessageCatalogue(outputs.StatFound, outputs.StatMissing, plans)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: rtemsg <output_folder> <fmt_folder> [options...] <binary_file>")
	fmt.Fprintln(os.Stderr, "       rtemsg @<parameter_file>")
}
