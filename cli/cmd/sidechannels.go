package cmd

import (
	"context"
	"fmt"

	"github.com/justapithecus/wvrunner/adapter"
	"github.com/justapithecus/wvrunner/adapter/redis"
	"github.com/justapithecus/wvrunner/adapter/webhook"
	"github.com/justapithecus/wvrunner/cli/config"
	"github.com/justapithecus/wvrunner/journal"
	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/metrics"
	"github.com/justapithecus/wvrunner/types"
)

// buildSideChannels creates the journal and notification adapter named by
// the config. Both are optional; an empty backend or adapter type skips it.
func buildSideChannels(ctx context.Context, cfg *config.Config, session *types.SessionMeta, logger *log.Logger, collector *metrics.Collector) (*sideChannels, error) {
	sides := &sideChannels{}

	j, err := openJournal(ctx, cfg, session, logger, collector)
	if err != nil {
		return nil, err
	}
	sides.journal = j

	a, err := openAdapter(cfg.Adapter)
	if err != nil {
		sides.close(logger)
		return nil, err
	}
	if a != nil {
		sides.notifier = adapter.NewNotifier([]adapter.Adapter{a}, cfg.Adapter.Timeout.Duration, logger, collector)
		logger.Info("notification adapter enabled", map[string]any{"type": cfg.Adapter.Type})
	}
	return sides, nil
}

func openJournal(ctx context.Context, cfg *config.Config, session *types.SessionMeta, logger *log.Logger, collector *metrics.Collector) (*journal.Journal, error) {
	jc := journal.Config{
		Dataset:   cfg.Journal.Dataset,
		Workflow:  session.Workflow,
		Mode:      session.Mode,
		SessionID: session.SessionID,
	}
	opts := []journal.Option{journal.WithLogger(logger), journal.WithCollector(collector)}

	var (
		j   *journal.Journal
		err error
	)
	switch cfg.Journal.Backend {
	case "":
		return nil, nil
	case config.BackendFS:
		j, err = journal.NewFS(jc, cfg.Journal.Path, opts...)
	case config.BackendS3:
		bucket, prefix := journal.ParseS3Path(cfg.Journal.Path)
		j, err = journal.NewS3(ctx, jc, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Journal.Region,
			Endpoint:     cfg.Journal.Endpoint,
			UsePathStyle: cfg.Journal.S3PathStyle,
		}, opts...)
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	logger.Info("journal enabled", map[string]any{
		"backend": cfg.Journal.Backend,
		"path":    cfg.Journal.Path,
	})
	return j, nil
}

func openAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Type {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return webhook.New(webhook.Config{
			URL:      ac.URL,
			Headers:  ac.Headers,
			Timeout:  ac.Timeout.Duration,
			Retries:  retries,
			Encoding: adapter.Encoding(ac.Encoding),
		})
	case config.AdapterRedis:
		retries := redis.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return redis.New(redis.Config{
			URL:      ac.URL,
			Channel:  ac.Channel,
			Timeout:  ac.Timeout.Duration,
			Retries:  retries,
			Encoding: adapter.Encoding(ac.Encoding),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}
