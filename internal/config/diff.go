package config

import (
	"sort"
	"strings"

	logx "naps/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections and
// (2) safe structured attrs for logging. Secrets (api key, SMTP password)
// are only reported as "changed", never by value.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	oI, nI := oldCfg.Immich, newCfg.Immich
	keyChanged := oI.APIKey != nI.APIKey
	if norm(oI.BaseURL) != norm(nI.BaseURL) || keyChanged ||
		oI.TagName != nI.TagName ||
		oI.AssetTypeOrDefault() != nI.AssetTypeOrDefault() ||
		oI.TimeoutOrDefault() != nI.TimeoutOrDefault() ||
		oI.RequestsPerSec != nI.RequestsPerSec {
		changed = append(changed, "immich")
		attrs = append(attrs,
			logx.String("immich.base_url", norm(nI.BaseURL)),
			logx.String("immich.tag_name", nI.TagName),
			logx.String("immich.asset_type", nI.AssetTypeOrDefault()),
			logx.Bool("immich.api_key_changed", keyChanged),
		)
	}

	oE, nE := oldCfg.Email, newCfg.Email
	pwChanged := oE.SMTP.Password != nE.SMTP.Password
	if oE.Sender != nE.Sender || oE.Recipient != nE.Recipient ||
		oE.Subject != nE.Subject || oE.Text != nE.Text ||
		norm(oE.SMTP.Host) != norm(nE.SMTP.Host) ||
		oE.SMTP.Port != nE.SMTP.Port ||
		oE.SMTP.Username != nE.SMTP.Username || pwChanged ||
		oE.SMTP.StartTLS != nE.SMTP.StartTLS ||
		oE.SMTP.SSL != nE.SMTP.SSL ||
		oE.SMTP.TimeoutOrDefault() != nE.SMTP.TimeoutOrDefault() {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.String("email.recipient", nE.Recipient),
			logx.String("email.smtp.host", norm(nE.SMTP.Host)),
			logx.Int("email.smtp.port", nE.SMTP.Port),
			logx.Bool("email.smtp.password_changed", pwChanged),
		)
	}

	oS, nS := oldCfg.Schedule, newCfg.Schedule
	if oS.Spec() != nS.Spec() || oS.MaxBackoffOrDefault() != nS.MaxBackoffOrDefault() || oS.RunOnStart != nS.RunOnStart {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.spec", nS.Spec()),
			logx.Duration("schedule.max_backoff", nS.MaxBackoffOrDefault()),
		)
	}

	if oldCfg.Storage.DriverOrDefault() != newCfg.Storage.DriverOrDefault() ||
		oldCfg.Storage.PathOrDefault() != newCfg.Storage.PathOrDefault() ||
		oldCfg.Storage.BusyTimeoutOrDefault() != newCfg.Storage.BusyTimeoutOrDefault() {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.DriverOrDefault()),
			logx.String("storage.path", newCfg.Storage.PathOrDefault()),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Convert != newCfg.Convert {
		changed = append(changed, "convert")
		attrs = append(attrs, logx.Bool("convert.enabled", newCfg.Convert.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

func norm(s string) string { return strings.TrimRight(strings.TrimSpace(s), "/") }
