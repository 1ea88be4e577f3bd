package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/model"
	"github.com/prospect-labs/leadgen-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage background jobs",
	Long:  "Commands for listing, viewing, and cancelling fetch jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
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

		status, _ := cmd.Flags().GetString("status")
		campaign, _ := cmd.Flags().GetString("campaign")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status:     model.JobStatus(status),
			CampaignID: campaign,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid job id: %s", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		job, err := st.GetJob(ctx, id)
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		if job == nil {
			return eris.Errorf("job %d not found", id)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid job id: %s", args[0])
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Exec.Cancel(ctx, id); err != nil {
			return err
		}

		zap.L().Info("job cancelled", zap.Int64("job_id", id))
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed, cancelled)")
	jobsListCmd.Flags().String("campaign", "", "filter by campaign id")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tCAMPAIGN\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t--------\t-------\t-----")

	for _, j := range jobs {
		campaign := ""
		if j.CampaignID != nil {
			campaign = truncateID(*j.CampaignID)
		}

		errText := j.Error
		if len(errText) > 40 {
			errText = errText[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID,
			j.Name,
			j.Type,
			j.Status,
			campaign,
			j.CreatedAt.Format("2006-01-02 15:04"),
			errText,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
