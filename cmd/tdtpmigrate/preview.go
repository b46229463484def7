package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
	"github.com/ruslano69/tdtp-migrator/pkg/xlsx"
)

var previewOpts struct {
	project string
	table   string
	limit   int
	xlsx    string
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview transformed rows of a table mapping",
	Long: `Read the first rows of a source table and show them as they would be
loaded into the target, with column transformations applied in memory.
custom-expression columns are evaluated only by the database and are shown
unchanged.

Examples:
  tdtpmigrate preview --project shop --table orders
  tdtpmigrate preview --project shop --table orders --limit 50 --xlsx orders.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return previewMapping(cmd.Context())
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewOpts.project, "project", "", "project id")
	previewCmd.Flags().StringVar(&previewOpts.table, "table", "", "source table of the mapping")
	previewCmd.Flags().IntVar(&previewOpts.limit, "limit", 10, "number of rows to preview")
	previewCmd.Flags().StringVar(&previewOpts.xlsx, "xlsx", "", "also write the preview to an Excel file")
	_ = previewCmd.MarkFlagRequired("project")
	_ = previewCmd.MarkFlagRequired("table")
}

// errPreviewDone останавливает чтение после первой порции
var errPreviewDone = errors.New("preview complete")

func previewMapping(ctx context.Context) error {
	if previewOpts.limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", previewOpts.limit)
	}
	repo, err := openRepository()
	if err != nil {
		return err
	}
	p, err := mapping.LoadProject(ctx, repo, previewOpts.project)
	if err != nil {
		return err
	}
	t, ok := p.Table(previewOpts.table)
	if !ok {
		return fmt.Errorf("project %s has no mapping for table %s", p.ID, previewOpts.table)
	}

	source, err := adapters.Open(ctx, p.Source, adapters.EnvCredentials{})
	if err != nil {
		return err
	}
	defer source.Close()

	var sample adapters.Batch
	req := adapters.ExtractRequest{Table: t.SourceRef(), BatchSize: previewOpts.limit}
	err = source.ExtractBatches(ctx, req, func(_ context.Context, b adapters.Batch) error {
		sample = b
		return errPreviewDone
	})
	if err != nil && !errors.Is(err, errPreviewDone) {
		return fmt.Errorf("failed to read %s: %w", t.SourceTable, err)
	}

	headers, rows := previewTable(*t, sample)
	printTable(headers, rows)

	if previewOpts.xlsx != "" {
		sheet := xlsx.Sheet{Name: t.TargetTable, Headers: headers, Rows: rows}
		if err := xlsx.Write(previewOpts.xlsx, sheet); err != nil {
			return err
		}
		log.Info().Str("file", previewOpts.xlsx).Int("rows", len(rows)).Msg("preview written")
	}
	return nil
}

// previewTable применяет трансформации соответствия к строкам источника.
// Колонки результата - колонки цели в порядке соответствия, без исключенных.
// Ошибка трансформации показывается в ячейке.
func previewTable(t mapping.TableMapping, b adapters.Batch) ([]string, [][]any) {
	var cols []mapping.ColumnMapping
	for _, c := range t.Columns {
		if !c.Excluded() {
			cols = append(cols, c)
		}
	}
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.TargetColumn
	}

	rows := make([][]any, 0, b.Len())
	for _, raw := range b.Rows {
		src := make(map[string]any, len(raw))
		for i, name := range b.Columns {
			if i < len(raw) {
				src[strings.ToLower(name)] = raw[i]
			}
		}

		out := make([]any, len(cols))
		for i, c := range cols {
			out[i] = previewValue(c, src)
		}
		rows = append(rows, out)
	}
	return headers, rows
}

func previewValue(c mapping.ColumnMapping, src map[string]any) any {
	key := strings.ToLower(c.SourceColumn)
	if !c.Transformed() {
		return src[key]
	}

	row := map[string]any{key: src[key]}
	for _, extra := range c.Transformation.Columns {
		row[extra] = src[strings.ToLower(extra)]
	}
	if err := transform.ApplyRow(row, key, *c.Transformation); err != nil {
		return "<error: " + err.Error() + ">"
	}
	return row[key]
}

func printTable(headers []string, rows [][]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, v := range r {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = schema.ToText(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
}
