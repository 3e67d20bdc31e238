package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tracker/internal/journal"
)

func newJournalCmd() *cobra.Command {
	var limit int
	var kind string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the recorded relationship changes",
		Long: "Journal prints the relationship changes recorded in the data directory,\n" +
			"oldest first. Use --kind to keep one kind of change and --limit to keep\n" +
			"only the most recent records.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJournal(cmd, kind, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many records (0 for all)")
	cmd.Flags().StringVar(&kind, "kind", "", "only print records of this kind: foreign_key, principal_key, reference, collection")
	return cmd
}

func runJournal(cmd *cobra.Command, kind string, limit int) error {
	if limit < 0 {
		return errors.NotValidf("limit %d", limit)
	}
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	path := filepath.Join(env.config.DataDir, journal.FileName)
	records, err := journal.Read(path)
	switch {
	case os.IsNotExist(errors.Cause(err)):
		records = nil
	case err != nil:
		return systemError(err, "reading journal")
	}

	if kind != "" {
		var kept []journal.Record
		for _, r := range records {
			if string(r.Kind) == kind {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		if records == nil {
			records = []journal.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no relationship changes recorded")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s  %-13s %s.%s  %s\n", r.Time.Format("2006-01-02T15:04:05Z"), r.Kind, r.Entry, r.Member, describeChange(r))
	}
	return nil
}

func describeChange(r journal.Record) string {
	switch r.Kind {
	case journal.KindCollection:
		var parts []string
		if len(r.Added) > 0 {
			parts = append(parts, "+"+strings.Join(r.Added, ",+"))
		}
		if len(r.Removed) > 0 {
			parts = append(parts, "-"+strings.Join(r.Removed, ",-"))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v -> %v", valueOrNone(r.Old), valueOrNone(r.New))
	}
}

func valueOrNone(v any) any {
	if v == nil {
		return "none"
	}
	return v
}
