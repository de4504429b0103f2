package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Serve(ctx context.Context, cfgPath string) error
	SyncPosts(ctx context.Context, cfgPath, pageID string, limit int) error
	SyncInsights(ctx context.Context, cfgPath, pageID string) error
	SyncAccounts(ctx context.Context, cfgPath string, pageIDs []string, clientNumber string) error
	SetToken(ctx context.Context, cfgPath, tier, value string) error
	CheckToken(ctx context.Context, cfgPath, pageID string) error
	ExportSQL(ctx context.Context, outDir string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	pageFlag := &cli.StringFlag{
		Name:    "page",
		Aliases: []string{"p"},
		Usage:   "the facebook page id to sync",
	}

	// Define all application commands.
	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "Run the web server exposing the sync and listing endpoints",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Serve(ctx, c.String("config"))
		},
	}

	syncPostsCmd := &cli.Command{
		Name:  "sync-posts",
		Usage: "Fetch and save recent posts with their metrics for a page",
		Flags: []cli.Flag{
			configFlag,
			pageFlag,
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "number of recent feed posts to fetch",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SyncPosts(ctx, c.String("config"), c.String("page"), int(c.Int("limit")))
		},
	}

	syncInsightsCmd := &cli.Command{
		Name:  "sync-insights",
		Usage: "Fetch and save daily page insights and demographics (all configured pages if --page omitted)",
		Flags: []cli.Flag{configFlag, pageFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SyncInsights(ctx, c.String("config"), c.String("page"))
		},
	}

	syncAccountsCmd := &cli.Command{
		Name:  "sync-accounts",
		Usage: "Fetch and save page account profiles (all configured pages if --page omitted)",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringSliceFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "a facebook page id to sync (repeatable)",
			},
			&cli.StringFlag{
				Name:  "client",
				Usage: "explicit client number to attribute the accounts to",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SyncAccounts(ctx, c.String("config"), c.StringSlice("page"), c.String("client"))
		},
	}

	setTokenCmd := &cli.Command{
		Name:      "set-token",
		Usage:     "Store an access token in the settings store",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{
				Name:  "tier",
				Value: "system",
				Usage: "the credential tier to store the token under: system or oauth",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SetToken(ctx, c.String("config"), c.String("tier"), c.Args().First())
		},
	}

	checkTokenCmd := &cli.Command{
		Name:  "check-token",
		Usage: "Resolve the credential tiers and verify the token against the Graph API",
		Flags: []cli.Flag{configFlag, pageFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.CheckToken(ctx, c.String("config"), c.String("page"))
		},
	}

	exportSQLCmd := &cli.Command{
		Name:  "export-sql",
		Usage: "Write the embedded sql query files to a directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Value:   ".",
				Usage:   "directory to write the sql directory into",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.ExportSQL(ctx, c.String("out"))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:  "metasync",
		Usage: "Synchronize facebook page posts and insights into a local store",
		Commands: []*cli.Command{
			serveCmd,
			syncPostsCmd,
			syncInsightsCmd,
			syncAccountsCmd,
			setTokenCmd,
			checkTokenCmd,
			exportSQLCmd,
		},
	}

	return rootCmd
}
