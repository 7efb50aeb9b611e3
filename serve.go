package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jimmitjoo/bgerase/proxy"
	"github.com/jimmitjoo/bgerase/services/backgrounderase"
)

// legacyAPIKeyEnv is what the browser extension proxy was deployed with.
const legacyAPIKeyEnv = "BEN_API_KEY"

func newServeCmd() *cobra.Command {
	var (
		addr           string
		saveDir        string
		apiKey         string
		allowedOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an HTTP proxy that forwards browser uploads to the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := backgrounderase.ResolveAPIKey(apiKey)
			if key == "" {
				key = os.Getenv(legacyAPIKeyEnv)
			}

			client := backgrounderase.NewClient()
			defer client.Close()

			srv, err := proxy.New(client, proxy.Config{
				APIKey:         key,
				SaveDir:        saveDir,
				AllowedOrigins: allowedOrigins,
			})
			if err != nil {
				return err
			}
			return srv.Listen(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", proxy.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&saveDir, "save-dir", proxy.DefaultSaveDir, "directory for server side copies of results, empty to disable")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (defaults to "+backgrounderase.APIKeyEnv+" or "+legacyAPIKeyEnv+")")
	cmd.Flags().StringSliceVar(&allowedOrigins, "allow-origin", proxy.DefaultAllowedOrigins, "origins allowed to call the proxy")
	return cmd
}
