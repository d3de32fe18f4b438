package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"recruitmate/internal/cache"
	"recruitmate/internal/channel"
	"recruitmate/internal/config"
	"recruitmate/internal/conversation"
	"recruitmate/internal/domain"
	"recruitmate/internal/provider"
	"recruitmate/internal/store"
)

// storeSession opens the store plus the conversation store used to drop
// cached channel configs after a change.
type storeSession struct {
	cfg           *config.Config
	store         store.Store
	cache         domain.Cache
	conversations *conversation.Store
}

func openStoreSession(ctx context.Context) (*storeSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	box, err := newBox(cfg.Store.EncryptionKey)
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg, box)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	kv, err := cache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &storeSession{
		cfg:           cfg,
		store:         st,
		cache:         kv,
		conversations: conversation.NewStore(kv, st, conversation.Options{Box: box}, logger),
	}, nil
}

func (s *storeSession) Close() {
	s.cache.Close()
	s.store.Close()
}

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage WhatsApp channel configurations",
	}
	cmd.AddCommand(channelsAddCmd())
	cmd.AddCommand(channelsListCmd())
	cmd.AddCommand(channelsRemoveCmd())
	return cmd
}

func channelsAddCmd() *cobra.Command {
	var ch domain.ChannelConfig
	var checkProfile bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a channel (keyed by phone number id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStoreSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if checkProfile {
				client := channel.NewClient(ch, channel.ClientOptions{
					APIBase:    s.cfg.WhatsApp.APIBase,
					APIVersion: s.cfg.WhatsApp.APIVersion,
					HTTPClient: provider.SharedHTTPClient(seconds(s.cfg.WhatsApp.TimeoutSeconds)),
					Logger:     logger,
				})
				profile, err := client.FetchProfile(ctx)
				if err != nil {
					return fmt.Errorf("access token check failed: %w", err)
				}
				logger.Info("business profile reachable", "about", profile.About, "email", profile.Email)
			}

			if err := s.store.UpsertChannel(ctx, ch); err != nil {
				return err
			}
			if err := s.conversations.InvalidateChannel(ctx, ch.PhoneNumberID); err != nil {
				logger.Warn("could not drop cached channel config", "err", err)
			}
			logger.Info("channel saved", "phone_number_id", ch.PhoneNumberID, "owner", ch.OwnerID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&ch.PhoneNumberID, "phone-number-id", "", "WhatsApp phone number id (routing key)")
	f.StringVar(&ch.BusinessAccountID, "business-account-id", "", "WhatsApp business account id")
	f.StringVar(&ch.AccessToken, "access-token", "", "Cloud API access token")
	f.StringVar(&ch.VerifyToken, "verify-token", "", "webhook verify token")
	f.StringVar(&ch.SigningSecret, "signing-secret", "", "app secret used to sign this channel's deliveries")
	f.StringVar(&ch.LLMAPIKey, "llm-api-key", "", "owner's LLM API key (defaults to the global key)")
	f.StringVar(&ch.OwnerID, "owner", "", "owning account reference")
	f.BoolVar(&checkProfile, "check", false, "verify the access token by fetching the business profile")
	cmd.MarkFlagRequired("phone-number-id")
	cmd.MarkFlagRequired("access-token")
	return cmd
}

func channelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStoreSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			channels, err := s.store.ListChannels(cmd.Context())
			if err != nil {
				return err
			}
			if len(channels) == 0 {
				fmt.Println("No channels configured. Add one with 'recruitmate channels add'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE NUMBER ID\tOWNER\tSIGNED\tOWN LLM KEY\tCREATED")
			for _, ch := range channels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					ch.PhoneNumberID, ch.OwnerID,
					yesNo(ch.SigningSecret != ""), yesNo(ch.LLMAPIKey != ""),
					ch.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func channelsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [phone-number-id]",
		Short: "Remove a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStoreSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.DeleteChannel(ctx, args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no channel with phone number id %s", args[0])
				}
				return err
			}
			if err := s.conversations.InvalidateChannel(ctx, args[0]); err != nil {
				logger.Warn("could not drop cached channel config", "err", err)
			}
			logger.Info("channel removed", "phone_number_id", args[0])
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
