package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

var discoverOpts struct {
	connection string
	format     string
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the schema of a connection",
	Long: `Read tables, columns, types and primary keys of a connection and print
them as a normalized schema.

Examples:
  tdtpmigrate discover --connection src
  tdtpmigrate discover --connection dst --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		db, err := discover(cmd.Context(), repo, discoverOpts.connection)
		if err != nil {
			return err
		}
		return encode(os.Stdout, discoverOpts.format, db)
	},
}

var suggestOpts struct {
	source        string
	target        string
	project       string
	minConfidence float64
	output        string
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest table and column mappings",
	Long: `Discover both connections and match tables, then columns, by name
similarity and type. The result is a project file that can be reviewed and
passed to "run".

Examples:
  tdtpmigrate suggest --source src --target dst --project shop -o shop.yaml
  tdtpmigrate suggest --source src --target dst --min-confidence 0.8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return suggestProject(cmd.Context())
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverOpts.connection, "connection", "", "connection id from the project file")
	discoverCmd.Flags().StringVar(&discoverOpts.format, "format", "yaml", "output format: yaml, json")
	_ = discoverCmd.MarkFlagRequired("connection")

	suggestCmd.Flags().StringVar(&suggestOpts.source, "source", "", "source connection id")
	suggestCmd.Flags().StringVar(&suggestOpts.target, "target", "", "target connection id")
	suggestCmd.Flags().StringVar(&suggestOpts.project, "project", "suggested", "id of the generated project")
	suggestCmd.Flags().Float64Var(&suggestOpts.minConfidence, "min-confidence", mapping.DefaultMinConfidence, "minimum match confidence (0..1)")
	suggestCmd.Flags().StringVarP(&suggestOpts.output, "output", "o", "", "write the project file here instead of stdout")
	_ = suggestCmd.MarkFlagRequired("source")
	_ = suggestCmd.MarkFlagRequired("target")
}

func discover(ctx context.Context, repo mapping.Repository, connection string) (*schema.Database, error) {
	engine, err := openConnection(ctx, repo, connection)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	db, err := engine.DiscoverSchema(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("connection", connection).Int("tables", len(db.Tables)).Msg("schema discovered")
	return db, nil
}

func suggestProject(ctx context.Context) error {
	if suggestOpts.minConfidence < 0 || suggestOpts.minConfidence > 1 {
		return fmt.Errorf("min-confidence must be within 0..1, got %v", suggestOpts.minConfidence)
	}
	repo, err := openRepository()
	if err != nil {
		return err
	}

	src, err := discover(ctx, repo, suggestOpts.source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dst, err := discover(ctx, repo, suggestOpts.target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}

	s := mapping.Suggest(src, dst, suggestOpts.minConfidence)
	for _, name := range s.UnmatchedSource {
		log.Warn().Str("table", name).Msg("no target table matched")
	}

	p := &mapping.Project{ID: suggestOpts.project, Tables: s.Tables}
	if p.Source, err = repo.Connection(ctx, suggestOpts.source); err != nil {
		return err
	}
	if p.Target, err = repo.Connection(ctx, suggestOpts.target); err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if suggestOpts.output != "" {
		f, err := os.Create(suggestOpts.output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", suggestOpts.output, err)
		}
		defer f.Close()
		w = f
	}
	if err := mapping.WriteYAML(w, p); err != nil {
		return err
	}

	log.Info().
		Int("tables", len(s.Tables)).
		Int("unmatched", len(s.UnmatchedSource)).
		Msg("mappings suggested")
	return nil
}

// encode пишет значение в YAML или JSON
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (want yaml or json)", format)
}
