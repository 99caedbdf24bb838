package app

import (
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/poller"
	"hwbot/internal/practicum"
	"hwbot/internal/storage"
	telegram "hwbot/internal/transport/telegram/adapter"
	logx "hwbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapPracticumConfig(cfg *config.Config) (practicum.Config, error) {
	timeout, err := config.ParseDurationField("poller.request_timeout", cfg.Poller.RequestTimeout)
	if err != nil {
		return practicum.Config{}, err
	}
	return practicum.Config{
		Endpoint: strings.TrimSpace(cfg.Poller.Endpoint),
		Token:    cfg.Secrets.PracticumToken,
		Timeout:  timeout,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 30*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Secrets.TelegramToken,
		Chat:        cfg.Secrets.TelegramChatID,
		RatePerSec:  cfg.Telegram.RatePerSec,
		SendTimeout: timeout,
		URL:         strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

// mapSchedule parses poller.interval into a runtime schedule.
func mapSchedule(cfg *config.Config) (poller.ParsedSpec, poller.Schedule, error) {
	spec, err := poller.ParseSchedule(cfg.Poller.Interval)
	if err != nil {
		return poller.ParsedSpec{}, nil, err
	}
	s, err := spec.Schedule()
	if err != nil {
		return poller.ParsedSpec{}, nil, err
	}
	return spec, s, nil
}

// summarizeChange lists the config sections that differ, for the reload log.
// Secrets are never compared or logged.
func summarizeChange(old, cur *config.Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	var out []string
	if old.Poller != cur.Poller {
		out = append(out, "poller")
	}
	if old.Telegram != cur.Telegram {
		out = append(out, "telegram")
	}
	if mapLogConfig(old) != mapLogConfig(cur) {
		out = append(out, "logging")
	}
	var a, b config.StorageConfig
	if old.Storage != nil {
		a = *old.Storage
	}
	if cur.Storage != nil {
		b = *cur.Storage
	}
	if a != b {
		out = append(out, "storage")
	}
	return out
}
