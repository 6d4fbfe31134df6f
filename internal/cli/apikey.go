package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/spf13/cobra"
)

func newApikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Generate API key for protecting the hub when exposed over a network",
	}
	cmd.AddCommand(newApikeyGenerateCmd())
	return cmd
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newApikeyGenerateCmd() *cobra.Command {
	var (
		envFile string
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key and print usage instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := randomHex(32)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Generated API key (save it somewhere safe):")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+key)
			_, _ = fmt.Fprintln(out)

			switch {
			case save:
				home := config.MustHomeFrom(cmd.Context())
				cfg, err := config.Load(home)
				if err != nil {
					return err
				}
				cfg.APIKey = key
				if err := config.Save(home, cfg); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Saved api_key to %s\n", config.Path(home))
			case envFile != "":
				line := config.EnvAPIKey + "=" + key + "\n"
				f, err := os.OpenFile(envFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("write %s: %w", envFile, err)
				}
				if _, err := f.WriteString(line); err != nil {
					_ = f.Close()
					return fmt.Errorf("write %s: %w", envFile, err)
				}
				if err := f.Close(); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Appended %s to %s\n", config.EnvAPIKey, envFile)
				_, _ = fmt.Fprintln(out, "Start the hub with: agentcomms start --foreground --env-file "+envFile)
			default:
				_, _ = fmt.Fprintln(out, "Use it:")
				_, _ = fmt.Fprintln(out, "  1. On the hub: export "+config.EnvAPIKey+"="+key)
				_, _ = fmt.Fprintln(out, "     Or add to .env and run: agentcomms start --foreground --env-file .env")
				_, _ = fmt.Fprintln(out, "  2. In clients: send header X-API-Key: <key> or query ?api_key=<key>")
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Append "+config.EnvAPIKey+" to this file (e.g. .env)")
	cmd.Flags().BoolVar(&save, "save", false, "Write the key into the home config file")
	return cmd
}
