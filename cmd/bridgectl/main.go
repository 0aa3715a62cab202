// Command bridgectl holds operator tasks: tool key generation and config
// checks.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mind-engage/uef-bridge/internal/config"
	"github.com/mind-engage/uef-bridge/internal/toolkeys"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Operator commands for the UEF bridge",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(jwksCmd(), configCmd())
	return root
}

func jwksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Manage the tool's signing key and public JWKS",
	}

	var keyOut, jwksOut string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate an RSA key pair and write the private PEM and public JWKS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := toolkeys.Generate()
			if err != nil {
				return err
			}
			if err := pair.WriteFiles(keyOut, jwksOut); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s (kid %s)\n", keyOut, jwksOut, pair.KID)
			fmt.Fprintf(cmd.OutOrStdout(), "set TOOL_KEY_FILE=%s\n", keyOut)
			return nil
		},
	}
	generate.Flags().StringVar(&keyOut, "key", "keys/private.pem", "private key output (PKCS#8 PEM)")
	generate.Flags().StringVar(&jwksOut, "jwks", "public/jwks.json", "public JWKS output")

	var keyIn string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the public JWKS for an existing private key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := toolkeys.LoadPEM(keyIn)
			if err != nil {
				return err
			}
			set, err := pair.PublicSet()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(set)
		},
	}
	show.Flags().StringVar(&keyIn, "key", "keys/private.pem", "private key (PKCS#8 or PKCS#1 PEM)")

	cmd.AddCommand(generate, show)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load .env, CONFIG_FILE and the environment, and validate the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: issuer=%s client_id=%s store=%s role=%s\n",
				cfg.LTIIssuer, cfg.LTIClientID, cfg.StateStore, cfg.UEFRole)
			if cfg.SessionSecret == "" {
				fmt.Fprintln(out, "warning: SESSION_SECRET is empty; sessions are per process")
			}
			if cfg.WidgetScriptURL() == "" {
				fmt.Fprintln(out, "warning: no widget configured (NF_WIDGET_ID / NF_WIDGET_SCRIPT_URL)")
			}
			if cfg.UEFUserToken == "" && cfg.LearnHost == "" {
				fmt.Fprintln(out, "warning: no bearer token source (UEF_USER_TOKEN or LEARN_HOST)")
			}
			return nil
		},
	})
	return cmd
}
