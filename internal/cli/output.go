package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: out, ErrWriter: errOut, Verbose: opts.Verbose}
}

func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Emit writes v as indented JSON.
func (f *OutputFormatter) Emit(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *OutputFormatter) Printf(format string, args ...any) {
	fmt.Fprintf(f.Writer, format, args...)
}

// VerboseLog writes to ErrWriter when verbose is on, keeping JSON output clean.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose && f.ErrWriter != nil {
		fmt.Fprintf(f.ErrWriter, format+"\n", args...)
	}
}

// Table returns a tab-aligned writer; callers must Flush it.
func (f *OutputFormatter) Table() *tabwriter.Writer {
	return tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
}
