package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run wires config, logging, and signal handling around the App lifecycle.
// cmd/trivector maps the returned error to the process exit code, so nothing
// here may call os.Exit.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(cfg, log)
	if err != nil {
		log.Error("app.init.failed", "err", err)
		return err
	}

	return a.Run(ctx)
}
