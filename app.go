package main

// app.go wires the configuration, the sqlite store, the Graph API client
// and the sync job together behind the Applicator interface consumed by
// the CLI in cli.go.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"metasync/apiclients/facebook"
	"metasync/config"
	"metasync/db"
	"metasync/internal/mounts"
	"metasync/internal/watcher"
	"metasync/sync"
	"metasync/web"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// App is the production Applicator.
type App struct{}

// runtime holds the assembled components for one command invocation.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB
	job    *sync.Job
}

func (rt *runtime) close() {
	_ = rt.db.Close()
}

// newLogger makes the program-edge slog logger.
func newLogger() *slog.Logger {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})
	return slog.New(handler)
}

// setup loads the configuration and connects the store, api client and
// job.
func (a *App) setup(cfgPath string) (*runtime, error) {

	logger := newLogger()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	// The sql queries ship in the binary; cfg.Web.SQLDir swaps in an
	// on-disk directory for development.
	mount, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, cfg.Web.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("sql mount error: %w", err)
	}

	database, err := db.NewConnection(cfg.DatabasePath, mount.FS, logger)
	if err != nil {
		return nil, fmt.Errorf("database setup error: %w", err)
	}

	graph := facebook.NewClient(cfg.Graph.BaseURL, cfg.Graph.Version, logger)
	job := sync.NewJob(database, graph, logger)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		db:     database,
		job:    job,
	}, nil
}

// printResult writes a sync result to stdout as indented JSON.
func printResult(result *sync.Result) error {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// Serve runs the web server until the context is cancelled. In development
// mode a config file watcher revalidates the configuration on change, so
// mistakes show up in the log before a restart.
func (a *App) Serve(ctx context.Context, cfgPath string) error {

	rt, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	webApp, err := web.New(rt.logger, rt.cfg, rt.db, rt.job)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return webApp.StartServer()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return webApp.Shutdown(shutdownCtx)
	})

	if rt.cfg.Web.DevelopmentMode {
		fcn, err := watcher.NewFileChangeNotifier([]watcher.DirFilesDescriptor{
			{Dir: filepath.Dir(cfgPath), FileSuffixes: []string{"yaml", "yml"}},
		})
		if err != nil {
			return fmt.Errorf("config watcher error: %w", err)
		}
		g.Go(func() error {
			return fcn.Watch(ctx)
		})
		g.Go(func() error {
			for range fcn.Update() {
				if _, err := config.Load(cfgPath); err != nil {
					rt.logger.Error("configuration reload check failed", "error", err)
					continue
				}
				rt.logger.Info("configuration changed and validates; restart to apply")
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SyncPosts runs a post synchronization for one page.
func (a *App) SyncPosts(ctx context.Context, cfgPath, pageID string, limit int) error {

	rt, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if limit == 0 {
		limit = rt.cfg.Graph.FeedLimit
	}
	result, err := rt.job.SyncPosts(ctx, pageID, limit)
	if err != nil {
		return err
	}
	return printResult(result)
}

// SyncInsights runs a page insights synchronization. An empty pageID runs
// over all configured pages.
func (a *App) SyncInsights(ctx context.Context, cfgPath, pageID string) error {

	rt, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	pageIDs := []string{pageID}
	if pageID == "" {
		pageIDs = rt.cfg.PageIDs
	}
	if len(pageIDs) == 0 {
		return errors.New("no page id provided and no page_ids configured")
	}

	var errs []error
	for _, id := range pageIDs {
		result, err := rt.job.SyncPageInsights(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", id, err))
			continue
		}
		if err := printResult(result); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// SyncAccounts runs an account profile synchronization.
func (a *App) SyncAccounts(ctx context.Context, cfgPath string, pageIDs []string, clientNumber string) error {

	rt, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if len(pageIDs) == 0 {
		pageIDs = rt.cfg.PageIDs
	}
	var client *string
	if clientNumber != "" {
		client = &clientNumber
	}
	result, err := rt.job.SyncAccounts(ctx, pageIDs, client)
	if err != nil {
		return err
	}
	return printResult(result)
}

// tierSettings maps the set-token tier names to settings keys.
var tierSettings = map[string]struct {
	key         string
	description string
}{
	"system": {sync.SettingSystemToken, "Meta system user access token"},
	"oauth":  {sync.SettingOAuthToken, "Meta OAuth user access token"},
}

// SetToken stores an access token in the settings store under the named
// credential tier.
func (a *App) SetToken(ctx context.Context, cfgPath, tier, value string) error {

	setting, ok := tierSettings[tier]
	if !ok {
		return fmt.Errorf("unknown token tier %q (use system or oauth)", tier)
	}
	if value == "" {
		return errors.New("no token value provided")
	}

	rt, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.db.SettingUpsert(ctx, setting.key, value, setting.description); err != nil {
		return err
	}
	rt.logger.Info("token stored", "tier", tier, "key", setting.key)
	return nil
}

// CheckToken resolves the credential tiers for the page (or the cross-page
// tiers when pageID is empty) and verifies the token against the Graph
// API.
func (a *App) CheckToken(ctx context.Context, cfgPath, pageID string) error {

	rt, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	tier, owner, err := rt.job.TokenCheck(ctx, pageID)
	if err != nil {
		return err
	}
	fmt.Printf("token valid: tier %s, owner %s (%s)\n", tier, owner.Name, owner.ID)
	return nil
}

// ExportSQL materializes the embedded sql directory to outDir so the
// queries can be run on the sqlite command line.
func (a *App) ExportSQL(ctx context.Context, outDir string) error {

	mount, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, "")
	if err != nil {
		return err
	}
	if err := mount.Materialize(outDir); err != nil {
		return err
	}
	fmt.Printf("sql files written to %s\n", filepath.Join(outDir, "sql"))
	return nil
}
