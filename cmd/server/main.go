package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/bloxchat/bloxchat/internal/api"
	"github.com/bloxchat/bloxchat/internal/auth"
	"github.com/bloxchat/bloxchat/internal/config"
	"github.com/bloxchat/bloxchat/internal/logging"
	"github.com/bloxchat/bloxchat/internal/server"
	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/supervisor"
	"github.com/bloxchat/bloxchat/internal/validate"
)

var (
	addr   string
	dsn    string
	logDir string
)

func main() {
	flag.StringVar(&addr, "addr", "", "server address (overrides PORT)")
	flag.StringVar(&dsn, "dsn", "", "database connection string (overrides DB_URL)")
	flag.StringVar(&logDir, "log-dir", "", "directory for rolling log files (overrides LOG_DIR)")
	flag.Parse()

	bootLog := log.New(os.Stderr, "[bloxchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(os.Getenv)
	if err != nil {
		bootLog.Fatal("config: ", err)
	}
	if addr != "" {
		cfg.ServerAddr = addr
	}
	if dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}

	loggers := logging.New(cfg.LogDir)
	defer loggers.Close()
	logger := loggers.App
	errLog := loggers.Error

	sup := supervisor.New(errLog, func(ctx context.Context) (store.Store, error) {
		return store.NewPgStore(ctx, cfg.DatabaseDSN)
	})
	if err := sup.Connect(context.Background()); err != nil {
		// keep serving so /health reports the outage; the monitor
		// loop keeps retrying behind the breaker
		errLog.Printf("initial store connect: %v", err)
	}
	go sup.Run()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	validator := validate.NewValidator(cfg.LinkAllowedHosts)
	chatServer := server.NewChatServer(logger, sup, statsUpdater, validator)
	gate := auth.NewGate(cfg.OAuth, sup, logger)

	app := api.NewChatApp(logger, cfg, mux, chatServer, sup, gate, sup, statsUpdater, validator)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		errLog.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		errLog.Println("HTTP server shutdown:", err)
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		errLog.Println("chat server shutdown:", err)
	}

	gate.Stop()

	if err := sup.Stop(); err != nil {
		errLog.Println("store close:", err)
	}

	logger.Println("shutdown complete")
}
