package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"recruitmate/internal/cache"
	"recruitmate/internal/config"
	"recruitmate/internal/provider"
)

func doctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your recruitmate installation",
		Long: `Verifies that the configuration, store, cache and LLM backend are
reachable and correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("recruitmate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			box, err := newBox(cfg.Store.EncryptionKey)
			switch {
			case err != nil:
				r.fail("Encryption key", err.Error())
			case box == nil && cfg.General.Production():
				r.fail("Encryption key", "required in production")
			case box == nil:
				r.warn("Encryption key", "not set; credentials are stored in plaintext")
			default:
				r.pass("Encryption key", "configured")
			}

			if st, err := openStore(ctx, cfg, box); err != nil {
				r.fail("Store", err.Error())
			} else {
				if err := st.Ping(ctx); err != nil {
					r.fail("Store", err.Error())
				} else if channels, err := st.ListChannels(ctx); err != nil {
					r.fail("Store", err.Error())
				} else if len(channels) == 0 {
					r.warn("Store", fmt.Sprintf("%s reachable, no channels configured", cfg.Store.Driver))
				} else {
					r.pass("Store", fmt.Sprintf("%s reachable, %d channel(s)", cfg.Store.Driver, len(channels)))
				}
				st.Close()
			}

			if kv, err := cache.Open(ctx, cfg.Cache, logger); err != nil {
				r.fail("Cache", err.Error())
			} else {
				if err := checkCache(ctx, kv.Get); err != nil {
					r.fail("Cache", err.Error())
				} else {
					r.pass("Cache", cfg.Cache.Backend)
				}
				kv.Close()
			}

			switch {
			case cfg.LLM.APIKey == "":
				r.warn("LLM", "no global API key; every channel needs its own")
			case offline:
				r.pass("LLM", "API key configured (not contacted)")
			default:
				backend, err := provider.New(cfg.LLM, logger)
				if err != nil {
					r.fail("LLM", err.Error())
				} else if err := backend.Healthy(ctx); err != nil {
					r.fail("LLM", err.Error())
				} else {
					r.pass("LLM", fmt.Sprintf("%s reachable, model %s", backend.Name(), cfg.LLM.Model))
				}
			}

			if cfg.WhatsApp.AppSecret == "" {
				r.warn("Webhook signing", "no app secret; only channels with their own secret are verified")
			} else {
				r.pass("Webhook signing", "app secret configured")
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			return r.summary()
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that call the LLM API")
	return cmd
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *doctorReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running recruitmate.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nrecruitmate should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! recruitmate is ready to run.\n")
	}
	return nil
}

// checkCache issues a read for a key that never exists.
func checkCache(ctx context.Context, get func(context.Context, string) ([]byte, bool, error)) error {
	_, _, err := get(ctx, "doctor:probe")
	return err
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
