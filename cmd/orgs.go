package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Manage organizations",
}

var (
	orgName        string
	orgSenderName  string
	orgSenderTitle string
	orgDailyVolume int
	orgKeywords    []string
	orgRegion      string
)

var orgsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		org := &model.Organization{
			ID:          uuid.New().String(),
			Name:        orgName,
			SenderName:  orgSenderName,
			SenderTitle: orgSenderTitle,
			DailyVolume: orgDailyVolume,
			Keywords:    orgKeywords,
			Region:      orgRegion,
			Active:      true,
		}
		if err := env.Store.CreateOrganization(ctx, org); err != nil {
			return err
		}
		zap.L().Info("organization created",
			zap.String("id", org.ID),
			zap.String("name", org.Name),
		)
		fmt.Println(org.ID)
		return nil
	},
}

var orgsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List organizations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		orgs, err := env.Store.ListOrganizations(ctx, false)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			state := "active"
			if !org.Active {
				state = "inactive"
			}
			fmt.Printf("%s  %-24s %-8s volume=%d keywords=%s\n",
				org.ID, org.Name, state, org.DailyVolume, strings.Join(org.Keywords, ","))
		}
		return nil
	},
}

func init() {
	orgsAddCmd.Flags().StringVar(&orgName, "name", "", "organization name (required)")
	orgsAddCmd.Flags().StringVar(&orgSenderName, "sender-name", "", "signature name for composed messages")
	orgsAddCmd.Flags().StringVar(&orgSenderTitle, "sender-title", "", "signature title for composed messages")
	orgsAddCmd.Flags().IntVar(&orgDailyVolume, "daily-volume", 25, "leads composed per cycle")
	orgsAddCmd.Flags().StringSliceVar(&orgKeywords, "keywords", nil, "discovery search keywords")
	orgsAddCmd.Flags().StringVar(&orgRegion, "region", "", "region appended to discovery queries")
	_ = orgsAddCmd.MarkFlagRequired("name")

	orgsCmd.AddCommand(orgsAddCmd, orgsListCmd)
	rootCmd.AddCommand(orgsCmd)
}
