package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/config"
	"github.com/kleeedolinux/chatsocket/hub"
	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/store"
)

var rootCmd = &cobra.Command{
	Use:          "chathub",
	Short:        "Chat room server: websocket hub plus chat REST endpoints",
	SilenceUsage: true,
	RunE:         runHub,
}

var (
	flagConfig    string
	flagEnvFiles  []string
	flagAddr      string
	flagStorePath string
	flagMemory    bool
	flagIssue     string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagConfig, "config", "c", "", "config file (default: search upward for configs/chat.yml)")
	flags.StringSliceVar(&flagEnvFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before the config")
	flags.StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
	flags.StringVar(&flagStorePath, "db", "", "sqlite history file (overrides server.store_path)")
	flags.BoolVar(&flagMemory, "memory", false, "keep history in memory only")
	flags.StringVar(&flagIssue, "issue-admin-token", "", "print an admin token for this username and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHub(cmd *cobra.Command, _ []string) error {
	loader, err := config.Load(flagConfig, flagEnvFiles...)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}
	if flagStorePath != "" {
		cfg.Server.StorePath = flagStorePath
	}
	if flagMemory {
		cfg.Server.StorePath = ""
	}

	log := logs.Init("chathub", cfg.Log)
	defer func() { _ = logs.Sync() }()

	if flagIssue != "" {
		token, err := hub.IssueToken([]byte(cfg.Hub.JWTSecret), 0, flagIssue, hub.RoleAdmin, 24*time.Hour)
		if err != nil {
			return err
		}
		cmd.Println(token)
		return nil
	}

	st, err := openStore(cfg.Server.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.New(st, cfg.Hub, hub.WithLogger(log.Named("hub")))
	loader.Watch(func(c config.Config) {
		h.SetMuted(c.Hub.MuteAll)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("chat hub listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("config", loader.Path()),
			zap.Bool("sqlite", cfg.Server.StorePath != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	h.Close()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

func openStore(path string) (store.MessageStore, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	return store.NewSQLite(path)
}
