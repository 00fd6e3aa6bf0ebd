package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/reporting"
	chstore "github.com/nice-bills/chain-segment/internal/storage/clickhouse"
	"github.com/nice-bills/chain-segment/internal/storage/migrations"
)

var reportFlags struct {
	outputDir string
	addresses []string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored persona results",
	Long: `Read the ClickHouse result sink and write the persona distribution,
plus the result history of any --address given, as Markdown and CSV.

Without --output-dir the Markdown report is printed to stdout.
Requires CLICKHOUSE_DSN.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.outputDir, "output-dir", "", "Write persona_report.md and CSV files here")
	reportCmd.Flags().StringSliceVar(&reportFlags.addresses, "address", nil, "Include the result history of this address (repeatable)")
}

func runReport(cmd *cobra.Command, args []string) error {
	if cfg.ClickhouseDSN == "" {
		return errors.New("CLICKHOUSE_DSN is required for reports")
	}

	addrs := make([]domain.WalletAddress, 0, len(reportFlags.addresses))
	for _, raw := range reportFlags.addresses {
		a, err := domain.ParseWalletAddress(raw)
		if err != nil {
			return err
		}
		addrs = append(addrs, a)
	}

	ctx := commandContext(cmd)
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	defer conn.Close()

	r, err := reporting.NewGenerator(chstore.NewPersonaResultStore(conn)).Generate(ctx, addrs...)
	if err != nil {
		return err
	}

	if reportFlags.outputDir == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), reporting.RenderMarkdown(r))
		return err
	}
	return writeReport(reportFlags.outputDir, r)
}

// writeReport writes the Markdown report and its CSV tables into dir.
func writeReport(dir string, r *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string]string{
		"persona_report.md":        reporting.RenderMarkdown(r),
		"persona_distribution.csv": reporting.RenderCSV(r.Distribution),
	}
	if len(r.History) > 0 {
		files["persona_history.csv"] = reporting.RenderHistoryCSV(r.History)
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info().Str("file", path).Msg("report written")
	}
	return nil
}
