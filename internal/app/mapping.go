package app

import (
	"naps/internal/catalog"
	"naps/internal/config"
	"naps/internal/dispatch"
	"naps/internal/mailer"
	"naps/internal/scheduler"
	"naps/internal/storage"
	logx "naps/pkg/logx"
)

// defaultLogLevel matches the CLI default when neither flag nor config sets one.
const defaultLogLevel = "WARNING"

func mapLogConfig(cfg *config.Config, override string) logx.Config {
	level := cfg.Logging.Level
	if override != "" {
		level = override
	}
	if level == "" {
		level = defaultLogLevel
	}
	return logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.PathOrDefault(),
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.DriverOrDefault(),
		Path:        cfg.Storage.PathOrDefault(),
		BusyTimeout: cfg.Storage.BusyTimeoutOrDefault(),
	}
}

func mapCatalogConfig(cfg *config.Config) catalog.Config {
	return catalog.Config{
		BaseURL:        cfg.Immich.BaseURL,
		APIKey:         cfg.Immich.APIKey,
		Timeout:        cfg.Immich.TimeoutOrDefault(),
		RequestsPerSec: cfg.Immich.RequestsPerSec,
	}
}

func mapMailerConfig(cfg *config.Config) mailer.Config {
	s := cfg.Email.SMTP
	return mailer.Config{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		StartTLS: s.StartTLS,
		SSL:      s.SSL,
		Timeout:  s.TimeoutOrDefault(),
	}
}

func mapJobSettings(cfg *config.Config) (dispatch.Settings, error) {
	typ, err := catalog.ParseAssetType(cfg.Immich.AssetTypeOrDefault())
	if err != nil {
		return dispatch.Settings{}, err
	}
	return dispatch.Settings{
		TagName:    cfg.Immich.TagName,
		AssetType:  typ,
		MaxBackoff: cfg.Schedule.MaxBackoffOrDefault(),
		Subject:    cfg.Email.Subject,
		From:       cfg.Email.Sender,
		To:         cfg.Email.Recipient,
		Text:       cfg.Email.Text,
		Convert:    cfg.Convert.Enabled,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Spec:       cfg.Schedule.Spec(),
		RunOnStart: cfg.Schedule.RunOnStart,
	}
}
