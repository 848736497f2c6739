package decode

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// LogWriter buffers lines for one output stream and flushes only at
// close, the same shape as the teacher's ExecutionTrace/MemoryTrace
// (vm/trace.go): accumulate during the run, write through a buffered
// io.Writer, flush once at shutdown (spec.md §5 "writes to buffered
// output streams that are flushed only at close").
type LogWriter struct {
	file *os.File
	buf  *bufio.Writer
}

// OpenLogWriter creates (or truncates) name inside dir for buffered
// writing.
func OpenLogWriter(dir, name string) (*LogWriter, error) {
	f, err := os.Create(filepath.Join(dir, name)) // #nosec G304 -- operator-supplied output folder
	if err != nil {
		return nil, err
	}
	return &LogWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

// WriteString appends s to the buffer.
func (w *LogWriter) WriteString(s string) error {
	_, err := w.buf.WriteString(s)
	return err
}

// Write implements io.Writer for callers that want raw bytes (e.g.
// PrintBinToFile's selected-byte dump already writes to an enum-table
// *os.File directly, but Main.log/Errors.log go through here).
func (w *LogWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Close flushes the buffer and closes the underlying file.
func (w *LogWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

var _ io.Writer = (*LogWriter)(nil)

// OutputSet bundles every well-known output stream spec.md §6 names.
type OutputSet struct {
	MainLog        *LogWriter
	ErrorsLog      *LogWriter
	StatMainLog    *LogWriter
	StatFound      *LogWriter
	StatMissing    *LogWriter
	TimestampsCSV  *LogWriter
	FilterNamesTXT *LogWriter
	FormatCSV      *LogWriter
}

// OpenOutputSet creates every well-known output file inside dir. debug
// and timestamps gate the optional Format.csv / Timestamps.csv streams
// (spec.md §6 "-debug", "-timestamps").
func OpenOutputSet(dir string, debug, timestamps bool) (*OutputSet, error) {
	outs := &OutputSet{}
	var err error
	if outs.MainLog, err = OpenLogWriter(dir, "Main.log"); err != nil {
		return nil, err
	}
	if outs.ErrorsLog, err = OpenLogWriter(dir, "Errors.log"); err != nil {
		return nil, err
	}
	if outs.StatMainLog, err = OpenLogWriter(dir, "Stat_main.log"); err != nil {
		return nil, err
	}
	if outs.StatFound, err = OpenLogWriter(dir, "Stat_msgs_found.txt"); err != nil {
		return nil, err
	}
	if outs.StatMissing, err = OpenLogWriter(dir, "Stat_msgs_missing.txt"); err != nil {
		return nil, err
	}
	if timestamps {
		if outs.TimestampsCSV, err = OpenLogWriter(dir, "Timestamps.csv"); err != nil {
			return nil, err
		}
	}
	if debug {
		if outs.FormatCSV, err = OpenLogWriter(dir, "Format.csv"); err != nil {
			return nil, err
		}
	}
	if outs.FilterNamesTXT, err = OpenLogWriter(dir, "Filter_names.txt"); err != nil {
		return nil, err
	}
	return outs, nil
}

// Close flushes and closes every opened stream, collecting the first
// error encountered.
func (o *OutputSet) Close() error {
	var first error
	for _, w := range []*LogWriter{
		o.MainLog, o.ErrorsLog, o.StatMainLog, o.StatFound, o.StatMissing,
		o.TimestampsCSV, o.FilterNamesTXT, o.FormatCSV,
	} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
