package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xcro3dile/workmind-go/internal/adapters/filewatcher"
	"github.com/0xcro3dile/workmind-go/internal/adapters/loader"
	"github.com/0xcro3dile/workmind-go/internal/domain/usecases"
	httpserver "github.com/0xcro3dile/workmind-go/internal/infrastructure/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the chat, profile and evidence API. When evidence.inbox_dir is
set, files dropped into <inbox>/<Department>/ are ingested as they appear.
SIGHUP reloads the knowledge corpus from knowledge.corpus_path.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpserver.NewServer(httpserver.Deps{
		Chat:            a.chat,
		Ingest:          a.ingest,
		Profiles:        a.store,
		Evidence:        a.store,
		Knowledge:       a.knowledge,
		Logger:          logger,
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.GetShutdownTimeout(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return reloadOnHangup(gctx, a) })

	if dir := cfg.Evidence.InboxDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		exts := usecases.SupportedExtensions()
		watcher, err := filewatcher.NewFSNotifyWatcher(exts, logger)
		if err != nil {
			return err
		}
		defer watcher.Stop()

		inbox := usecases.NewInboxRunner(
			a.ingest,
			loader.NewFileLoader(exts, int64(a.ingest.MaxBytes())),
			watcher,
			a.knowledge.Departments,
			cfg.GetInboxSettle(),
			logger,
		)
		g.Go(func() error { return inbox.Run(gctx, dir) })
	}

	return g.Wait()
}

// reloadOnHangup swaps in the corpus file on SIGHUP. A broken file is
// logged and the running corpus stays in place.
func reloadOnHangup(ctx context.Context, a *app) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			path := cfg.Knowledge.CorpusPath
			if path == "" {
				logger.Warn("SIGHUP ignored: knowledge.corpus_path is not set")
				continue
			}
			if err := a.knowledge.LoadFile(path); err != nil {
				logger.Error("knowledge reload failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
