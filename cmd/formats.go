package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/logreplay/logreplay/sim/format"
)

// formatsCmd lists the known log formats, or prints one in full.
var formatsCmd = &cobra.Command{
	Use:   "formats [name]",
	Short: "List the known log formats",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		table := loadFormats()
		var err error
		if len(args) == 1 {
			err = printFormat(os.Stdout, table, args[0])
		} else {
			err = listFormats(os.Stdout, table)
		}
		if err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// listFormats writes one line per format: name, resolution and worker key.
func listFormats(w io.Writer, table format.Table) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRESOLUTION\tWORKER KEY")
	for _, name := range table.Names() {
		f := table[name]
		workerKey := f.WorkerKey
		if workerKey == "" {
			workerKey = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, f.Resolution(), workerKey)
	}
	return tw.Flush()
}

// printFormat writes the named format as YAML.
func printFormat(w io.Writer, table format.Table, name string) error {
	f, ok := table[name]
	if !ok {
		return fmt.Errorf("unknown log format %q (available: %v)", name, table.Names())
	}
	out, err := yaml.Marshal(map[string]format.Format{name: f})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
