package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"stream-resolver-go/internal/app"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/types"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Flags that override the environment configuration.
var (
	flagProviders string
	flagStore     string
	flagLogLevel  string
	flagBackend   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProviders, "providers", "", "provider tables TOML file (overrides PROVIDERS_FILE)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "SQLite store path (overrides STORE_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "challenge backend: rod or flaresolverr (overrides CHALLENGE_BACKEND)")
	lo.Must0(rootCmd.RegisterFlagCompletionFunc("backend", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{config.BackendRod, config.BackendFlareSolverr}, cobra.ShellCompDirectiveNoFileComp
	}))

	serveCmd.Flags().Int("port", 0, "listen port (overrides PORT)")
	resolveCmd.Flags().Bool("force", false, "refresh even when auto-update is disabled")
	extractCmd.Flags().String("name", "", "server name hint")
	extractCmd.Flags().StringArrayP("header", "H", nil, `request header as "Name: value" (repeatable)`)
	solveCmd.Flags().Bool("html", false, "print the rendered HTML instead of a summary")

	rootCmd.AddCommand(serveCmd, resolveCmd, extractCmd, solveCmd)
}

var rootCmd = &cobra.Command{
	Use:           "stream-resolver",
	Short:         "Resolve provider endpoints and extract playable streams",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Port = port
		}

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer a.Shutdown()
		return a.Run(cmd.Context())
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <provider>",
	Short: "Resolve a provider's current base address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withApp(func(a *app.App) error {
			if _, err := a.Ctx.Endpoints.ResolveEndpoint(cmd.Context(), args[0], force); err != nil {
				return err
			}
			resolver, _ := a.Ctx.Endpoints.Get(args[0])
			return printJSON(resolver.Snapshot())
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Extract a playable stream from a server reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		raw, _ := cmd.Flags().GetStringArray("header")

		headers, err := parseHeaders(raw)
		if err != nil {
			return err
		}

		ref := &types.ServerReference{URL: args[0], Name: name, Headers: headers}
		return withApp(func(a *app.App) error {
			desc, err := a.Ctx.Extraction.Extract(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(desc)
		})
	},
}

var solveCmd = &cobra.Command{
	Use:   "solve <url>",
	Short: "Render a challenged page until it clears",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		printHTML, _ := cmd.Flags().GetBool("html")
		return withApp(func(a *app.App) error {
			doc, err := a.Ctx.Challenge.Solve(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			if printHTML {
				_, err := fmt.Fprintln(os.Stdout, doc.HTML)
				return err
			}
			return printJSON(map[string]any{
				"url":     doc.URL,
				"polls":   doc.Polls,
				"size":    len(doc.HTML),
				"cookies": lo.Map(doc.Cookies, func(c *http.Cookie, _ int) string { return c.Name }),
			})
		})
	},
}

func loadConfig() *config.Config {
	cfg := config.Load()
	if flagProviders != "" {
		cfg.ProvidersFile = flagProviders
	}
	if flagStore != "" {
		cfg.StorePath = flagStore
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagBackend != "" {
		cfg.ChallengeBackend = strings.ToLower(flagBackend)
	}
	return cfg
}

// withApp builds the application for a one-shot command and tears it down
// afterwards.
func withApp(fn func(*app.App) error) error {
	a, err := app.New(loadConfig())
	if err != nil {
		return err
	}
	defer a.Shutdown()
	return fn(a)
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
