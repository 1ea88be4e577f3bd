package main

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/dedup"
)

var (
	importCSVPath  string
	importCampaign string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from a CSV file into a campaign",
	Long:  "Rows pass through the same dedup engine as provider fetches: emails are normalized, duplicates skipped, the batch committed in one transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		campaign, err := st.GetCampaign(ctx, importCampaign)
		if err != nil {
			return eris.Wrap(err, "load campaign")
		}
		if campaign == nil {
			return eris.Errorf("campaign %s not found", importCampaign)
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		records, err := readCSVRecords(f)
		if err != nil {
			return err
		}

		engine := dedup.New(st)
		summary, err := engine.Ingest(ctx, campaign.ID, records)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.String("csv", importCSVPath),
			zap.Int("created", summary.Created),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors),
		)
		return nil
	},
}

// readCSVRecords parses the CSV into raw records keyed by the header row, the
// same shape the provider emits, so the dedup engine treats both identically.
func readCSVRecords(r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	var records []map[string]any
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}

		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().StringVar(&importCampaign, "campaign", "", "target campaign id (required)")
	_ = importCmd.MarkFlagRequired("csv")
	_ = importCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(importCmd)
}
