// Package archive copies completed uploads to S3, compressed with zstd or
// s2, keyed by the uploading login.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/util"
)

// ObjectPutter is the slice of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Archiver uploads finished incoming transfers.
type Archiver struct {
	cfg    config.ArchiveConfig
	codec  codec
	s3     ObjectPutter
	logger zerolog.Logger
	ctx    context.Context
}

// New creates an archiver for the configured bucket.
func New(cfg *config.Config) (*Archiver, error) {
	ac := cfg.GetArchive()
	if !ac.Enabled {
		return nil, fmt.Errorf("archiving is disabled")
	}
	awsCfg := aws.NewConfig().WithRegion(ac.Region)
	if ac.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(ac.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return NewWithClient(ac, s3.New(sess))
}

// NewWithClient creates an archiver on an existing S3 client.
func NewWithClient(ac config.ArchiveConfig, client ObjectPutter) (*Archiver, error) {
	c, err := codecFor(ac.Compression)
	if err != nil {
		return nil, err
	}
	return &Archiver{
		cfg:    ac,
		codec:  c,
		s3:     client,
		logger: util.ComponentLogger("archive"),
		ctx:    context.Background(),
	}, nil
}

// Start archives completed uploads until ctx is cancelled. Uploads in
// flight are cancelled with ctx.
func (a *Archiver) Start(ctx context.Context, bus *events.EventBus) {
	a.ctx = ctx
	bus.Subscribe(events.EventTransferCompleted, "archive", a.onCompleted)
	a.logger.Info().Str("bucket", a.cfg.Bucket).Str("compression", a.cfg.Compression).Msg("upload archiving enabled")

	<-ctx.Done()
	bus.Unsubscribe(events.EventTransferCompleted, "archive")
}

func (a *Archiver) onCompleted(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.TransferPayload)
	if !ok || !p.Incoming {
		return nil
	}
	if err := a.Archive(a.ctx, p.OwnerLogin, p.Path); err != nil {
		a.logger.Warn().Err(err).Str("path", p.Path).Msg("failed to archive upload")
		return err
	}
	return nil
}

// Key returns the object key of name uploaded by login.
func (a *Archiver) Key(login, name string) string {
	if login == "" {
		login = "unknown"
	}
	return path.Join(a.cfg.Prefix, login, name+a.codec.ext)
}

// Archive compresses the data fork at file and stores it in the bucket.
func (a *Archiver) Archive(ctx context.Context, login, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	w, err := a.codec.wrap(&buf)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return fmt.Errorf("compress %s: %w", file, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", file, err)
	}

	key := a.Key(login, filepath.Base(file))
	_, err = a.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
		Metadata: map[string]*string{
			"Uploader":      aws.String(login),
			"Original-Size": aws.String(fmt.Sprint(n)),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}
	a.logger.Info().
		Str("key", key).
		Int64("size", n).
		Int("compressed", buf.Len()).
		Msg("upload archived")
	return nil
}
