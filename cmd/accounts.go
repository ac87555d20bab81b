package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage sending accounts",
}

var (
	accountOrgID   string
	accountChannel string
	accountAddress string
	accountDisplay string
	accountLimit   int
	accountWarm    bool
)

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a sending account",
	Long:  "Registers a sending identity for one channel. New email accounts start in warmup unless --no-warmup is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ch := model.Channel(accountChannel)
		switch ch {
		case model.ChannelEmailOAuth, model.ChannelEmailSMTP, model.ChannelSMS,
			model.ChannelSocialDM, model.ChannelVoiceDrop, model.ChannelPostal:
		default:
			return eris.Errorf("unknown channel %q", accountChannel)
		}

		status := model.AccountStatusActive
		if accountWarm && ch.IsEmail() {
			status = model.AccountStatusWarmingUp
		}

		a := &model.SendingAccount{
			ID:          uuid.New().String(),
			OrgID:       accountOrgID,
			Channel:     ch,
			Address:     accountAddress,
			DisplayName: accountDisplay,
			Status:      status,
			DailyLimit:  accountLimit,
		}
		if err := env.Store.CreateAccount(ctx, a); err != nil {
			return err
		}
		zap.L().Info("account created",
			zap.String("id", a.ID),
			zap.String("address", a.Address),
			zap.String("channel", string(a.Channel)),
			zap.String("status", string(a.Status)),
		)
		fmt.Println(a.ID)
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sending accounts with today's usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		statuses, err := env.Engine.Pool().Status(ctx, accountOrgID)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			fmt.Printf("%s  %-32s %-11s %-10s sent=%d/%d bounce=%.1f%%\n",
				s.ID, s.Address, s.Channel, s.Status,
				s.SentToday, s.EffectiveLimit, s.BounceRate*100)
		}
		return nil
	},
}

func init() {
	accountsCmd.PersistentFlags().StringVar(&accountOrgID, "org", "", "organization id (required)")
	_ = accountsCmd.MarkPersistentFlagRequired("org")

	accountsAddCmd.Flags().StringVar(&accountChannel, "channel", "email_smtp", "channel: email_smtp, email_oauth, sms, social_dm, voice_drop, postal")
	accountsAddCmd.Flags().StringVar(&accountAddress, "address", "", "mailbox address, phone number, or handle (required)")
	accountsAddCmd.Flags().StringVar(&accountDisplay, "display-name", "", "From display name")
	accountsAddCmd.Flags().IntVar(&accountLimit, "daily-limit", 50, "sends per day once warmed up")
	accountsAddCmd.Flags().BoolVar(&accountWarm, "warmup", true, "start email accounts in warmup")
	_ = accountsAddCmd.MarkFlagRequired("address")

	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd)
	rootCmd.AddCommand(accountsCmd)
}
