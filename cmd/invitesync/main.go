// Command invitesync runs the incremental mail sync pass and the
// OAuth onboarding flows around it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/invite-sync/internal/auth"
	"github.com/nhle/invite-sync/internal/extract"
	"github.com/nhle/invite-sync/internal/logging"
	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/provider/gmail"
	"github.com/nhle/invite-sync/internal/secret"
	"github.com/nhle/invite-sync/internal/store"
	syncengine "github.com/nhle/invite-sync/internal/sync"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "invitesync",
		Short:         "Incremental Gmail sync and invite digest reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSyncCmd(&configPath, &verbose),
		newAuthCmd(&configPath, &verbose),
		newPartnerCmd(&configPath, &verbose),
	)
	return root
}

// env bundles the constructed application dependencies for one run.
type env struct {
	cfg   *model.AppConfig
	log   *zap.Logger
	store *store.SQLiteStore
	box   *secret.Box
	auth  *auth.Manager
}

func buildEnv(configPath string, verbose bool) (*env, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log := logging.New(verbose)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	box, err := secret.OpenBox()
	if err != nil {
		return nil, fmt.Errorf("opening secret box: %w", err)
	}

	return &env{
		cfg:   cfg,
		log:   log,
		store: st,
		box:   box,
		auth:  auth.NewManager(cfg.Google, st, box, log),
	}, nil
}

func (e *env) close() {
	_ = e.log.Sync()
	_ = e.store.Close()
}

func newSyncCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass over all eligible accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer e.close()

			apiKey, err := secret.Get(secret.KeyAnthropicAPI)
			if err != nil {
				return fmt.Errorf("loading extraction API key: %w", err)
			}
			extractor, err := extract.NewClient(apiKey, e.cfg.AI.Model, e.cfg.AI.MaxTokens)
			if err != nil {
				return fmt.Errorf("building extraction client: %w", err)
			}

			engine := syncengine.NewEngine(
				e.store,
				gmail.NewClient(e.cfg.Sync.PageSize, e.cfg.Sync.FetchTimeoutSec),
				e.auth,
				extractor,
				e.cfg.Digest,
				e.cfg.Sync,
				e.log,
			)

			summary, err := engine.Run(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Processed %d users, %d messages: %d invites created, %d merged, %d decisions, %d skipped, %d failures, %d need reauth\n",
				summary.Users, summary.Messages, summary.InvitesCreated,
				summary.InvitesMerged, summary.DecisionsApplied,
				summary.Skipped, summary.Failures, summary.ReauthRequired,
			)
			return nil
		},
	}
}

func newAuthCmd(configPath *string, verbose *bool) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage account authorization",
	}

	authCmd.AddCommand(&cobra.Command{
		Use:   "url",
		Short: "Print the OAuth consent URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer e.close()

			fmt.Println(e.auth.AuthURL("invitesync"))
			return nil
		},
	})

	var userID, email string
	exchangeCmd := &cobra.Command{
		Use:   "exchange <code>",
		Short: "Exchange an authorization code and store the credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := context.Background()
			tok, err := e.auth.Exchange(ctx, args[0])
			if err != nil {
				return err
			}
			if err := e.auth.StoreAuthorized(ctx, userID, email, tok); err != nil {
				return err
			}

			fmt.Printf("Authorized %s (%s)\n", userID, email)
			return nil
		},
	}
	exchangeCmd.Flags().StringVar(&userID, "user", "", "user id to store the credential under")
	exchangeCmd.Flags().StringVar(&email, "email", "", "account email address")
	_ = exchangeCmd.MarkFlagRequired("user")
	_ = exchangeCmd.MarkFlagRequired("email")
	authCmd.AddCommand(exchangeCmd)

	return authCmd
}

func newPartnerCmd(configPath *string, verbose *bool) *cobra.Command {
	var partnerID, partnerEmail string
	cmd := &cobra.Command{
		Use:   "partner <user-id>",
		Short: "Link a user to their partner for shared invite visibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer e.close()

			link := model.PartnerLink{
				UserID:       args[0],
				PartnerID:    partnerID,
				PartnerEmail: partnerEmail,
			}
			if err := e.store.SetPartnerLink(context.Background(), link); err != nil {
				return err
			}

			fmt.Printf("Linked %s to %s (%s)\n", args[0], partnerID, partnerEmail)
			return nil
		},
	}
	cmd.Flags().StringVar(&partnerID, "partner", "", "partner user id")
	cmd.Flags().StringVar(&partnerEmail, "partner-email", "", "partner email address")
	_ = cmd.MarkFlagRequired("partner")
	_ = cmd.MarkFlagRequired("partner-email")
	return cmd
}
