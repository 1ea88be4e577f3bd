package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/prospect-labs/leadgen-cli/internal/model"
)

var fetchFile string

// campaignSpec is the YAML shape accepted by `fetch --file`.
type campaignSpec struct {
	OrgID   string         `yaml:"org_id"`
	OrgName string         `yaml:"org_name"`
	Name    string         `yaml:"name"`
	Params  map[string]any `yaml:"params"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run a one-shot lead fetch from a campaign definition file",
	Long:  "Creates the campaign (and organization, if only a name is given), then executes the fetch job inline without going through the worker queue.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		spec, err := loadCampaignSpec(fetchFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		orgID := spec.OrgID
		if orgID == "" {
			org, err := env.Store.CreateOrganization(ctx, spec.OrgName)
			if err != nil {
				return eris.Wrap(err, "create organization")
			}
			orgID = org.ID
			zap.L().Info("organization created", zap.String("org_id", orgID))
		}

		params, err := json.Marshal(spec.Params)
		if err != nil {
			return eris.Wrap(err, "encode campaign params")
		}

		campaign, err := env.Store.CreateCampaign(ctx, model.Campaign{
			OrgID:  orgID,
			Name:   spec.Name,
			Status: model.CampaignStatusActive,
			Params: params,
		})
		if err != nil {
			return eris.Wrap(err, "create campaign")
		}

		job, err := env.Store.CreateJob(ctx, model.Job{
			Name:       "fetch: " + spec.Name,
			Type:       model.JobTypeFetchLeads,
			CampaignID: &campaign.ID,
			Status:     model.JobStatusPending,
			Params:     params,
		})
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		zap.L().Info("executing fetch inline",
			zap.Int64("job_id", job.ID),
			zap.String("campaign_id", campaign.ID),
		)

		if err := env.Exec.Execute(ctx, job.ID, uuid.New().String()); err != nil {
			return err
		}

		done, err := env.Store.GetJob(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "reload job")
		}
		zap.L().Info("fetch finished",
			zap.String("status", string(done.Status)),
			zap.String("result", done.Result),
		)
		return nil
	},
}

func loadCampaignSpec(path string) (*campaignSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read campaign file")
	}

	var spec campaignSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, eris.Wrap(err, "parse campaign file")
	}
	if spec.Name == "" {
		return nil, eris.New("campaign file: name is required")
	}
	if spec.OrgID == "" && spec.OrgName == "" {
		return nil, eris.New("campaign file: org_id or org_name is required")
	}
	if _, ok := spec.Params["fileName"].(string); !ok {
		return nil, eris.New(`campaign file: params.fileName is required`)
	}
	return &spec, nil
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFile, "file", "", "path to YAML campaign definition (required)")
	_ = fetchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(fetchCmd)
}
