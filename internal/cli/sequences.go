package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"timeanchor/internal/app"
	"timeanchor/internal/sequence"
)

func NewSequencesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sequences",
		Aliases: []string{"seq"},
		Short:   "Inspect and edit the persisted sequence library",
	}
	cmd.AddCommand(newSequencesListCommand(rootOpts))
	cmd.AddCommand(newSequencesImportCommand(rootOpts))
	cmd.AddCommand(newSequencesDeleteCommand(rootOpts))
	return cmd
}

func newSequencesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [id...]",
		Short: "List stored sequences (all when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, closeFn, err := app.OpenLibrary(cmd.Context(), rootOpts.Config, cliLogger(rootOpts))
			if err != nil {
				return err
			}
			defer closeFn()

			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			list := lib.Get(args...)
			if out.JSON() {
				if list == nil {
					list = []sequence.Sequence{}
				}
				return out.Emit(list)
			}
			if len(list) == 0 {
				out.Printf("no sequences\n")
				return nil
			}
			tw := out.Table()
			fmt.Fprintln(tw, "ID\tLABEL\tSTEPS\tSPAN")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Label, len(s.Steps), sequenceSpan(s))
			}
			return tw.Flush()
		},
	}
}

// sequenceSpan is the time from the first step's start to the end of the
// latest-ending step.
func sequenceSpan(s sequence.Sequence) time.Duration {
	var span time.Duration
	for _, st := range s.Steps {
		if end := st.Offset() + st.Duration(); end > span {
			span = end
		}
	}
	return span
}

func newSequencesImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert sequences from a YAML or JSON file",
		Long: `Upsert sequences from a YAML or JSON file. The file holds either a list of
sequences or a mapping with a "sequences" key. Existing sequences are merged
field by field; steps are replaced when given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := readSequenceFile(args[0])
			if err != nil {
				return err
			}
			lib, closeFn, err := app.OpenLibrary(cmd.Context(), rootOpts.Config, cliLogger(rootOpts))
			if err != nil {
				return err
			}
			defer closeFn()

			changed, err := lib.Upsert(cmd.Context(), list)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if out.JSON() {
				return out.Emit(map[string]any{"read": len(list), "changed": nonNil(changed)})
			}
			out.Printf("read %d sequence(s), changed %d", len(list), len(changed))
			if len(changed) > 0 {
				out.Printf(": %s", strings.Join(changed, ", "))
			}
			out.Printf("\n")
			return nil
		},
	}
}

func newSequencesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete sequences by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, closeFn, err := app.OpenLibrary(cmd.Context(), rootOpts.Config, cliLogger(rootOpts))
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := lib.Delete(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if out.JSON() {
				return out.Emit(map[string]any{"deleted": nonNil(removed)})
			}
			out.Printf("deleted %d sequence(s)\n", len(removed))
			return nil
		},
	}
}

type sequenceFile struct {
	Sequences []sequence.Sequence `yaml:"sequences"`
}

// readSequenceFile decodes a list or a {sequences: [...]} document. JSON
// input goes through the same YAML decoder.
func readSequenceFile(path string) ([]sequence.Sequence, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	var list []sequence.Sequence
	if b[0] == '[' || b[0] == '-' {
		if err := yaml.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		var doc sequenceFile
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		list = doc.Sequences
	}
	for i, s := range list {
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("%s: sequence %d: id required", path, i)
		}
	}
	return list, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
