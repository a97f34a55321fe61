package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/rshade/slidetiler/internal/config"
	"github.com/rshade/slidetiler/internal/history"
	"github.com/rshade/slidetiler/internal/logging"
	"github.com/rshade/slidetiler/internal/notify"
	"github.com/rshade/slidetiler/internal/publish"
)

// Services holds the post-run integrations enabled in the config.
type Services struct {
	Publisher Publisher
	Notifier  Notifier
	Recorder  Recorder

	closers []io.Closer
}

// OpenServices connects every enabled integration. One that cannot be
// reached is logged and left out; it never stops the run.
func OpenServices(ctx context.Context, cfg *config.Config) *Services {
	log := logging.FromContext(ctx)
	s := &Services{}

	if cfg.History.Enabled && cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("path", cfg.History.Path).Msg("run history unavailable")
		} else {
			s.Recorder = store
			s.closers = append(s.closers, store)
		}
	}

	if s3 := cfg.Publish.S3; s3.Enabled {
		pub, err := publish.NewS3(ctx, publish.Options{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			UseSSL:    s3.UseSSL,
		})
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("endpoint", s3.Endpoint).Msg("archive publishing unavailable")
		} else {
			s.Publisher = pub
		}
	}

	if k := cfg.Notify.Kafka; k.Enabled {
		n, err := notify.NewKafka(k.Brokers, k.Topic)
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Msg("run notifications unavailable")
		} else {
			s.Notifier = n
			s.closers = append(s.closers, n)
		}
	}

	return s
}

// Apply copies the connected services into opts.
func (s *Services) Apply(opts *Options) {
	if s.Publisher != nil {
		opts.Publisher = s.Publisher
	}
	if s.Notifier != nil {
		opts.Notifier = s.Notifier
	}
	if s.Recorder != nil {
		opts.Recorder = s.Recorder
	}
}

// Close releases every connected service.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
