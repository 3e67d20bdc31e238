// Package cli implements the tracker command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitUserError = 1
	exitSysError  = 2
)

// Version is the tracker release, set at link time by the build.
var Version = "0.1.0"

const modulePath = "github.com/mesh-intelligence/tracker"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
	jsonMode  bool
}

var flags rootFlags

// NewRootCmd creates the top-level "tracker" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:   "tracker",
		Short: "Change tracking for object graphs",
		Long: "Tracker keeps a unit of work over an object graph: it detects scalar,\n" +
			"key and navigation changes, fixes up relationships, journals every\n" +
			"relationship change and saves the result to SQLite.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: ./.tracker or the user configuration directory)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: ./.tracker-db)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warning, error")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newDemoCmd())
	root.AddCommand(newJournalCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tracker:", err)
		os.Exit(exitCode(err))
	}
}

// exitError carries the exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// systemError marks err as a failure of the environment rather than of the
// command line.
func systemError(err error, format string, args ...any) error {
	return &exitError{code: exitSysError, err: errors.Annotatef(err, format, args...)}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// configureLogging sets the level of every tracker logger. The flag wins
// over the configured level.
func configureLogging(configured string) error {
	level := flags.logLevel
	if level == "" {
		level = configured
	}
	if level == "" {
		return nil
	}
	if err := loggo.ConfigureLoggers("<root>=" + level); err != nil {
		return errors.Annotatef(err, "log level %q", level)
	}
	return nil
}

// writeJSON prints v indented when --json is set.
func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Annotate(err, "encoding output")
	}
	_, err = fmt.Fprintln(w, string(out))
	return errors.Trace(err)
}
