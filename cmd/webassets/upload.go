package main

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/opalnova/webassets/analytics"
	"github.com/opalnova/webassets/internal/envconfig"
	"github.com/opalnova/webassets/storage"
	"github.com/opalnova/webassets/upload"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

type s3Env struct {
	Region          string           `koanf:"S3_REGION"`
	Endpoint        string           `koanf:"S3_ENDPOINT"`
	AccessKeyID     string           `koanf:"S3_ACCESS_KEY_ID"`
	SecretAccessKey envconfig.Secret `koanf:"S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool             `koanf:"S3_USE_PATH_STYLE"`
	NumRetries      int              `koanf:"S3_NUM_RETRIES"`
}

// newWriter routes http(s) destinations to pre-signed PUTs and, when
// S3_REGION is set, s3:// destinations to the S3 API.
func newWriter(ctx context.Context, repository env.Repository, config upload.Config, logger log.Logger) (storage.Writer, error) {
	httpWriter := storage.NewHTTPWriter(storage.NewHTTPClient(config.RetryMax, logger), logger)
	mux := storage.NewMux()
	mux.Handle("http", httpWriter)
	mux.Handle("https", httpWriter)

	var raw s3Env
	if err := envconfig.Load(&raw, repository); err != nil {
		return nil, err
	}
	if raw.Region == "" {
		return mux, nil
	}
	if raw.NumRetries < 0 {
		return nil, fmt.Errorf("S3_NUM_RETRIES must not be negative")
	}

	s3Writer, err := storage.NewS3Writer(ctx, storage.S3Params{
		Region:          raw.Region,
		Endpoint:        raw.Endpoint,
		AccessKeyID:     raw.AccessKeyID,
		SecretAccessKey: string(raw.SecretAccessKey),
		UsePathStyle:    raw.UsePathStyle,
		NumRetries:      uint(raw.NumRetries),
	}, logger)
	if err != nil {
		return nil, err
	}
	mux.Handle(storage.S3Scheme, s3Writer)
	logger.Debugf("S3 destinations enabled (region: %s, endpoint: %s)", raw.Region, raw.Endpoint)
	return mux, nil
}

func uploadCommand(logger log.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected exactly one file, got %d", c.NArg())
		}

		repository := env.NewRepository()
		config, err := upload.NewConfigFromEnv(repository)
		if err != nil {
			return err
		}
		writer, err := newWriter(c.Context, repository, config, logger)
		if err != nil {
			return err
		}
		tracker, err := analytics.NewDefaultTracker(repository, logger)
		if err != nil {
			return err
		}

		opts := []upload.Option{upload.WithWriter(writer)}
		if tracker != nil {
			opts = append(opts, upload.WithTracker(tracker))
		}
		coordinator := upload.New(config, logger, opts...)
		defer func() {
			_ = coordinator.Close()
		}()

		entry, err := upload.NewEntryFromFile(c.Args().First(), upload.Meta{
			Full:      c.String("full"),
			Medium:    c.String("medium"),
			Small:     c.String("small"),
			PublicURL: c.String("public-url"),
		})
		if err != nil {
			return err
		}

		if err := runUpload(c.Context, coordinator, entry, logger); err != nil {
			return err
		}
		coordinator.Wait()
		return nil
	}
}

func runUpload(ctx context.Context, coordinator *upload.Coordinator, entry *upload.Entry, logger log.Logger) error {
	p := mpb.NewWithContext(ctx, mpb.WithWidth(60))
	bar := p.AddBar(100,
		mpb.PrependDecorators(decor.Name(entry.Name+" ")),
		mpb.AppendDecorators(decor.Percentage()),
	)

	var result upload.Event
	for ev := range coordinator.UploadWithEvents(ctx, []*upload.Entry{entry}, nil) {
		switch ev.Kind {
		case upload.InProgress:
			bar.SetCurrent(int64(ev.Percent))
		case upload.Completed:
			bar.SetCurrent(100)
			result = ev
		case upload.Failed, upload.Cancelled:
			bar.Abort(false)
			result = ev
		}
	}
	p.Wait()

	switch result.Kind {
	case upload.Completed:
		if result.Err != nil {
			logger.Warnf("Renditions failed: %s", result.Err)
		}
		logger.Donef("Uploaded %s (%s)", entry.Name, units.HumanSizeWithPrecision(float64(len(entry.Data)), 3))
		return nil
	case upload.Cancelled:
		return fmt.Errorf("upload of %s cancelled", entry.Name)
	default:
		return fmt.Errorf("upload of %s failed: %w", entry.Name, result.Err)
	}
}
