package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hwbot/internal/app"
	"hwbot/internal/config"
	"hwbot/internal/homework"
	logx "hwbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (default $"+config.EnvConfigPath+")")
	flag.Parse()
	if strings.TrimSpace(cfgPath) == "" {
		cfgPath = os.Getenv(config.EnvConfigPath)
	}

	bootLog := logx.NewConsole("INFO")
	if err := config.LoadDotEnv(".env"); err != nil {
		bootLog.Warn("failed to read .env", logx.Err(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewConfigManager(cfgPath))
	if err != nil {
		bootLog.Critical(homework.Diagnostic(err), logx.String("kind", homework.KindOf(err).String()))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		bootLog.Critical("start failed", logx.Err(err))
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		bootLog.Error("stopped with error", logx.Err(err))
		stopCancel()
		os.Exit(1)
	}
}
