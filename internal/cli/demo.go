package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tracker/internal/catalog"
	"github.com/mesh-intelligence/tracker/internal/journal"
	"github.com/mesh-intelligence/tracker/internal/metrics"
	"github.com/mesh-intelligence/tracker/internal/sqlite"
	"github.com/mesh-intelligence/tracker/pkg/fixup"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

const relationshipChangesMetric = "tracker_relationship_changes_total"

type demoFlags struct {
	memory  bool
	metrics bool
}

type demoStep struct {
	Name    string `json:"name"`
	Note    string `json:"note"`
	Tracked int    `json:"tracked"`
	Rows    int    `json:"rows"`
}

type demoEntry struct {
	Entry string `json:"entry"`
	Key   string `json:"key"`
	State string `json:"state"`
}

type demoReport struct {
	Backend  string             `json:"backend"`
	Database string             `json:"database"`
	Journal  string             `json:"journal"`
	Steps    []demoStep         `json:"steps"`
	Entries  []demoEntry        `json:"entries"`
	Changes  map[string]float64 `json:"relationship_changes"`
}

func newDemoCmd() *cobra.Command {
	var df demoFlags
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the catalog scenario through change tracking",
		Long: "Demo builds a small catalog of categories, products and people, changes it\n" +
			"step by step and saves it. Navigation fixup keeps both sides of every\n" +
			"relationship in step, the journal records each relationship change and\n" +
			"the collector counts them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, df)
		},
	}
	cmd.Flags().BoolVar(&df.memory, "memory", false, "keep the database in memory")
	cmd.Flags().BoolVar(&df.metrics, "metrics", false, "print the collected metrics in text exposition format")
	return cmd
}

// demo holds the collaborators of one scenario run.
type demo struct {
	ctx       context.Context
	sm        *tracking.StateManager
	store     *sqlite.Store
	collector *metrics.Collector
	steps     []demoStep
}

func runDemo(cmd *cobra.Command, df demoFlags) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	config := env.config
	if df.memory {
		config.Backend = types.BackendMemory
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return systemError(err, "creating data directory")
	}

	model, err := catalog.NewModel()
	if err != nil {
		return systemError(err, "building catalog model")
	}
	store := sqlite.NewStore(model)
	if err := store.Attach(config); err != nil {
		return systemError(err, "attaching storage")
	}
	defer store.Detach()

	j, err := journal.Open(filepath.Join(config.DataDir, journal.FileName))
	if err != nil {
		return systemError(err, "opening journal")
	}
	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	d := &demo{
		ctx:       cmd.Context(),
		sm:        tracking.NewStateManager(model, config.Tracking, fixup.NewNavigationFixer(model), j, collector),
		store:     store,
		collector: collector,
	}
	if err := d.run(); err != nil {
		return errors.Trace(err)
	}
	if err := j.Flush(); err != nil {
		return systemError(err, "writing journal")
	}

	families, err := registry.Gather()
	if err != nil {
		return systemError(err, "gathering metrics")
	}
	report := demoReport{
		Backend:  config.Backend,
		Database: store.Path(),
		Journal:  j.Path(),
		Steps:    d.steps,
		Changes:  make(map[string]float64),
	}
	for _, e := range d.sm.Entries() {
		report.Entries = append(report.Entries, demoEntry{
			Entry: e.String(),
			Key:   e.Key().String(),
			State: string(e.State()),
		})
	}
	for _, mf := range families {
		if mf.GetName() != relationshipChangesMetric {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "kind" {
					report.Changes[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		if err := writeJSON(out, report); err != nil {
			return errors.Trace(err)
		}
	} else {
		printDemoReport(out, report)
	}
	if df.metrics {
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
				return errors.Annotate(err, "writing metrics")
			}
		}
	}
	return nil
}

// run plays the scenario. Every step ends with a detection sweep or a save.
func (d *demo) run() error {
	books := &catalog.Category{PrincipalID: catalog.Int(1), Name: "Books"}
	games := &catalog.Category{PrincipalID: catalog.Int(2), Name: "Games"}
	novel := &catalog.Product{Name: "Novel"}
	chess := &catalog.Product{Name: "Chess"}
	husband := &catalog.Person{}
	wife := &catalog.Person{}

	steps := []struct {
		name string
		note string
		run  func() (int, error)
	}{
		{
			name: "attach",
			note: "two categories and two products added with temporary keys",
			run:  func() (int, error) { return 0, d.attach(books, games, novel, chess) },
		},
		{
			name: "relate",
			note: "novel placed by reference, chess by collection",
			run: func() (int, error) {
				novel.Category = books
				books.Products = append(books.Products, chess)
				return 0, d.collector.Sweep(d.sm)
			},
		},
		{
			name: "save",
			note: "categories inserted before their products",
			run:  d.save,
		},
		{
			name: "move",
			note: "chess moved to games by its foreign key",
			run: func() (int, error) {
				chess.DependentID = catalog.Int(2)
				return 0, d.collector.Sweep(d.sm)
			},
		},
		{
			name: "marry",
			note: "the husband's generated key reaches the wife's foreign key",
			run: func() (int, error) {
				if err := d.attach(husband, wife); err != nil {
					return 0, err
				}
				wife.Husband = husband
				if err := d.collector.Sweep(d.sm); err != nil {
					return 0, err
				}
				return d.save()
			},
		},
	}
	for _, step := range steps {
		rows, err := step.run()
		if err != nil {
			return errors.Annotatef(err, "step %s", step.name)
		}
		d.steps = append(d.steps, demoStep{
			Name:    step.name,
			Note:    step.note,
			Tracked: d.sm.Len(),
			Rows:    rows,
		})
	}
	return nil
}

func (d *demo) attach(entities ...any) error {
	for _, entity := range entities {
		if _, err := d.sm.Attach(entity, types.StateAdded); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *demo) save() (int, error) {
	rows, err := d.store.SaveChanges(d.ctx, d.sm)
	d.collector.Observe(d.sm)
	return rows, errors.Trace(err)
}

func printDemoReport(w io.Writer, r demoReport) {
	fmt.Fprintf(w, "backend:  %s (%s)\n", r.Backend, r.Database)
	fmt.Fprintf(w, "journal:  %s\n\n", r.Journal)
	fmt.Fprintf(w, "%-8s %7s %4s  %s\n", "STEP", "TRACKED", "ROWS", "NOTE")
	for _, s := range r.Steps {
		fmt.Fprintf(w, "%-8s %7d %4d  %s\n", s.Name, s.Tracked, s.Rows, s.Note)
	}
	fmt.Fprintln(w)
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%-12s %-24s %s\n", e.Entry, e.Key, e.State)
	}
	fmt.Fprintln(w)
	kinds := make([]string, 0, len(r.Changes))
	for kind := range r.Changes {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(w, "%s changes: %.0f\n", kind, r.Changes[kind])
	}
}
