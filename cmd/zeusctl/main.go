package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/grnet/panoramix/internal/client"
	"github.com/grnet/panoramix/internal/config"
	"github.com/grnet/panoramix/internal/ui"
	"github.com/spf13/cobra"
)

var (
	apiHost    string
	authToken  string
	users      []string
	jsonOutput bool
	noColor    bool
	verbose    bool

	cfg        *config.Config
	httpClient *client.HTTPClient
	logger     *slog.Logger
)

func defaultHost() string {
	if s := os.Getenv("ZEUS_API_HOST"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8000"
}

func defaultToken() string {
	if s := os.Getenv("ZEUS_AUTH_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

func defaultUsers() []string {
	env, _ := config.FromEnv()
	loadActiveRemoteOnce()
	return sessionUsers(env, activeRemote)
}

var rootCmd = &cobra.Command{
	Use:           "zeusctl <command>",
	Short:         "Console client for Zeus election negotiations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}

		c, err := config.FromEnv()
		if err != nil {
			return err
		}
		cfg = c
		httpClient = client.NewHTTPClient(apiHost, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if httpClient != nil {
			httpClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiHost, "host", defaultHost(), "backend API base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token for the backend")
	rootCmd.PersistentFlags().StringSliceVarP(&users, "user", "u", defaultUsers(), "negotiating user (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "stages", Title: "Stages:"},
		&cobra.Group{ID: "live", Title: "Live:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Stages
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(contributeCmd)

	// Live
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(eventsCmd)

	// System
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
