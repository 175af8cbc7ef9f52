// Package cmd wires the kgclose command line: flags, environment and
// config file merge into one option set, which either prints a dry-run
// plan or drives the denormalization pipeline.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/api"
	"github.com/agentic-research/kgclose/internal/denorm"
	"github.com/agentic-research/kgclose/internal/store"
)

// The SQLite store is the only Store implementation the command wires.
var _ denorm.Store = (*store.DB)(nil)

// newRootCmd builds the command with a fresh flag set. Tests construct
// their own instance; the package-level rootCmd serves Execute.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kgclose",
		Short: "Denormalize knowledge graph closures into flat, queryable tables",
		Long: `kgclose joins ontology closure relations onto the edges and nodes of a
KGX knowledge graph. Edges gain the labels, categories and ancestor
closures of the nodes they reference; nodes gain per-predicate
aggregates and descendant closures. Results are persisted in SQLite and
exported as pipe-delimited TSVs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	def := api.Defaults()
	f := cmd.Flags()
	f.String("config", "", "path to config file")
	f.String("kg", "", "KGX graph archive (tar.gz) to load into the database")
	f.StringP("database", "d", def.Database, "SQLite database to build or reuse")
	f.String("closure", "", "relation closure file, three-column TSV")
	f.String("edges-output", def.EdgesOutput, "denormalized edge export path")
	f.String("nodes-output", def.NodesOutput, "denormalized node export path")
	f.StringSlice("fields", def.ExpandFields, "edge fields expanded with node attributes and closures")
	f.StringSlice("label-fields", def.LabelFields, "edge fields expanded with labels only, no closures")
	f.StringSlice("node-fields", def.NodeFields, "node fields aggregated from matching edges")
	f.StringSlice("grouping-fields", def.GroupingFields, "edge fields composing the grouping key")
	f.StringSlice("evidence-fields", def.EvidenceFields, "edge fields summed into evidence_count")
	f.StringSlice("multivalued-fields", def.MultivaluedFields, "pipe-delimited fields converted to arrays")
	f.String("node-filter", def.NodeFilter, "constraint on denormalized edges feeding node aggregation")
	f.String("predicate-prefix", def.PredicatePrefix, "prefix applied to bare node field predicates")
	f.Bool("export-edges", def.ExportEdges, "write the denormalized edge TSV")
	f.Bool("export-nodes", def.ExportNodes, "write the denormalized node TSV")
	f.Bool("dry-run", def.DryRun, "print the run plan and exit without touching storage")
	f.BoolP("verbose", "v", false, "enable debug logging")
	return cmd
}

var rootCmd = newRootCmd()

func runRoot(cmd *cobra.Command, _ []string) error {
	v, err := bindConfig(cmd)
	if err != nil {
		return err
	}
	opts := optionsFromConfig(v)
	if err := validateOptions(cmd, opts); err != nil {
		return err
	}

	if opts.DryRun {
		plan := denorm.DescribePlan(opts)
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(plan, &ojg.Options{Indent: 2, UseTags: true}))
		return nil
	}

	if err := absolutePaths(&opts); err != nil {
		return err
	}
	logger, err := newLogger(v.GetBool("verbose"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(opts.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	p := &denorm.Pipeline{
		Store: db,
		FS:    osfs.New("/"),
		Log:   logger.Sugar(),
		Opts:  opts,
	}
	return p.Run(cmd.Context())
}

// bindConfig merges the standard precedence: flag > env > config file
// > flag default. Environment variables use the KGCLOSE_ prefix with
// dashes mapped to underscores. A kgclose.yaml in the working directory
// is picked up when --config is not given; its absence is fine.
func bindConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("KGCLOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}
	v.SetConfigName("kgclose")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func optionsFromConfig(v *viper.Viper) api.Options {
	return api.Options{
		KGArchive:         v.GetString("kg"),
		Database:          v.GetString("database"),
		ClosureFile:       v.GetString("closure"),
		EdgesOutput:       v.GetString("edges-output"),
		NodesOutput:       v.GetString("nodes-output"),
		ExpandFields:      v.GetStringSlice("fields"),
		LabelFields:       v.GetStringSlice("label-fields"),
		NodeFields:        v.GetStringSlice("node-fields"),
		GroupingFields:    v.GetStringSlice("grouping-fields"),
		EvidenceFields:    v.GetStringSlice("evidence-fields"),
		MultivaluedFields: v.GetStringSlice("multivalued-fields"),
		NodeFilter:        v.GetString("node-filter"),
		PredicatePrefix:   v.GetString("predicate-prefix"),
		ExportEdges:       v.GetBool("export-edges"),
		ExportNodes:       v.GetBool("export-nodes"),
		DryRun:            v.GetBool("dry-run"),
	}
}

// validateOptions rejects option sets with no sane interpretation. An
// archive load always targets the default database path, so pairing
// --kg with an explicit database is refused rather than guessed at.
func validateOptions(cmd *cobra.Command, opts api.Options) error {
	if opts.ClosureFile == "" {
		return errors.New("a relation closure file is required (--closure)")
	}
	if opts.KGArchive != "" {
		explicit := cmd.Flags().Changed("database") || opts.Database != api.Defaults().Database
		if explicit {
			return errors.New("--kg and an explicit --database cannot be combined: the archive is always loaded into the default database")
		}
		return nil
	}
	if opts.DryRun {
		return nil
	}
	if _, err := os.Stat(opts.Database); err != nil {
		return fmt.Errorf("database %s does not exist and no --kg archive was given", opts.Database)
	}
	return nil
}

// absolutePaths pins every configured path to the filesystem root, so
// the billy view rooted at / resolves them regardless of working
// directory.
func absolutePaths(opts *api.Options) error {
	paths := []*string{
		&opts.KGArchive,
		&opts.Database,
		&opts.ClosureFile,
		&opts.EdgesOutput,
		&opts.NodesOutput,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve path %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
