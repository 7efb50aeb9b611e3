package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/jimmitjoo/bgerase/services/aws/s3"
	"github.com/jimmitjoo/bgerase/services/backgrounderase"
)

type Options struct {
	// Presign, when non-zero, prints a presigned GET link valid for this
	// long after storing to an s3:// destination.
	Presign time.Duration
	// Region overrides the AWS region for s3:// destinations.
	Region string
	// Out receives user facing output such as presigned links.
	Out io.Writer
}

type objectStore interface {
	Put(ctx context.Context, uri string, body []byte, contentType string) (string, string, error)
}

type linkSigner interface {
	GetObject(ctx context.Context, bucket, key string, lifetime time.Duration) (*v4.PresignedHTTPRequest, error)
}

// newObjectStore is replaced in tests.
var newObjectStore = func(ctx context.Context, region string) (objectStore, linkSigner, error) {
	client, err := s3.NewClient(ctx, region)
	if err != nil {
		return nil, nil, err
	}
	return s3.NewStore(client), s3.NewPresigner(client), nil
}

// RemoveBackground erases the background of src and stores the result at
// dst, which is either a local path or an s3://bucket/key URI.
func RemoveBackground(ctx context.Context, client *backgrounderase.Client, src, dst, apiKey string, opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	log := logrus.WithFields(logrus.Fields{"src": src, "dst": dst})

	if !s3.IsURI(dst) {
		if err := client.Upload(ctx, src, dst, apiKey); err != nil {
			return err
		}
		log.Info("Saved")
		return nil
	}

	if _, _, err := s3.ParseURI(dst); err != nil {
		return &backgrounderase.PreconditionError{Reason: "destination", Err: err}
	}
	if apiKey == "" {
		return &backgrounderase.PreconditionError{Err: backgrounderase.ErrMissingAPIKey}
	}
	img, err := backgrounderase.LoadImage(src)
	if err != nil {
		return err
	}

	result, err := client.Remove(ctx, img, apiKey)
	if err != nil {
		return err
	}

	store, signer, err := newObjectStore(ctx, opts.Region)
	if err != nil {
		return &backgrounderase.FilesystemError{Path: dst, Err: err}
	}
	bucket, key, err := store.Put(ctx, dst, result, http.DetectContentType(result))
	if err != nil {
		return &backgrounderase.FilesystemError{Path: dst, Err: err}
	}
	log.WithField("size", humanize.Bytes(uint64(len(result)))).Info("Saved")

	if opts.Presign > 0 {
		link, err := signer.GetObject(ctx, bucket, key, opts.Presign)
		if err != nil {
			return fmt.Errorf("presign %s: %w", dst, err)
		}
		fmt.Fprintln(opts.Out, "Output link:", link.URL)
	}
	return nil
}
