package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/leadimport"
	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Import and inspect leads",
}

var (
	leadsOrgID  string
	leadsFile   string
	leadsStatus string
	leadsLimit  int
)

var leadsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from an XLSX or CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		leads, skipped, err := leadimport.Parse(leadsFile)
		if err != nil {
			return err
		}
		for i := range leads {
			leads[i].OrgID = leadsOrgID
		}

		inserted, err := env.Store.UpsertLeads(ctx, leads)
		if err != nil {
			return err
		}
		zap.L().Info("import complete",
			zap.String("file", leadsFile),
			zap.Int("parsed", len(leads)),
			zap.Int("skipped", skipped),
			zap.Int64("new_leads", inserted),
		)
		return nil
	},
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads, optionally by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		leads, err := env.Store.ListLeads(ctx, leadsOrgID, store.LeadFilter{
			Status:       model.LeadStatus(leadsStatus),
			OrderByScore: true,
			Limit:        leadsLimit,
		})
		if err != nil {
			return err
		}
		for _, l := range leads {
			fmt.Printf("%s  %-28s %-12s score=%-3d pos=%d %s\n",
				l.ID, l.Domain, l.Status, l.Score, l.SequencePosition, l.Name)
		}
		return nil
	},
}

func init() {
	leadsCmd.PersistentFlags().StringVar(&leadsOrgID, "org", "", "organization id (required)")
	_ = leadsCmd.MarkPersistentFlagRequired("org")

	leadsImportCmd.Flags().StringVar(&leadsFile, "file", "", "path to XLSX or CSV file (required)")
	_ = leadsImportCmd.MarkFlagRequired("file")

	leadsListCmd.Flags().StringVar(&leadsStatus, "status", "", "filter by lead status")
	leadsListCmd.Flags().IntVar(&leadsLimit, "limit", 50, "max leads to list")

	leadsCmd.AddCommand(leadsImportCmd, leadsListCmd)
	rootCmd.AddCommand(leadsCmd)
}
