package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tgcast/pkg/logx"
)

// SummarizeConfigChange returns the changed section names, safe log fields
// (never tokens) and whether any changed section only takes effect after a
// restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
		restart bool
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL) ||
		strings.TrimSpace(ot.RequestTimeout) != strings.TrimSpace(nt.RequestTimeout) ||
		!reflect.DeepEqual(ot.Tenants, nt.Tenants) {
		changed = append(changed, "telegram")
		restart = true
		fields = append(fields,
			logx.Int("telegram.tenants", len(nt.Tenants)),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(nt.APIURL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = true
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.spec", newCfg.Scheduler.Spec),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
			logx.String("dispatch.stagger_text", newCfg.Dispatch.StaggerText),
			logx.String("dispatch.stagger_media", newCfg.Dispatch.StaggerMedia),
		)
	}

	if !reflect.DeepEqual(oldCfg.Attachments, newCfg.Attachments) {
		changed = append(changed, "attachments")
		restart = true
		fields = append(fields, logx.Int("attachments.base_dirs", len(newCfg.Attachments.BaseDirs)))
	}

	if oldCfg.Retraction != newCfg.Retraction {
		changed = append(changed, "retraction")
		fields = append(fields, logx.Float64("retraction.rate_per_sec", newCfg.Retraction.RatePerSec))
	}

	oo, no := oldCfg.Observability, newCfg.Observability
	if oo != no {
		changed = append(changed, "observability")
		fields = append(fields,
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", no.Addr),
			logx.Bool("observability.token_set", no.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, fields, restart
}
