package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

// GCSGateway stores blobs in a Google Cloud Storage bucket.
type GCSGateway struct {
	svc    *gcs.Service
	bucket string
	signer *URLSigner
}

// NewGCSGateway builds a gateway from a service account key file. The same
// key signs stream URLs.
func NewGCSGateway(ctx context.Context, bucket, credentialsFile string) (*GCSGateway, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	svc, err := gcs.NewService(ctx, option.WithCredentialsJSON(data))
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(data, gcs.DevstorageReadWriteScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	signer, err := NewURLSigner(jwt.Email, jwt.PrivateKey)
	if err != nil {
		return nil, err
	}

	return &GCSGateway{svc: svc, bucket: bucket, signer: signer}, nil
}

func (g *GCSGateway) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := g.svc.Objects.Insert(g.bucket, &gcs.Object{Name: key}).Media(f).Context(ctx).Do(); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Download copies key to localPath. An existing localPath is left as is.
func (g *GCSGateway) Download(ctx context.Context, key, localPath string) error {
	if _, err := os.Stat(localPath); err == nil {
		return nil
	}

	resp, err := g.svc.Objects.Get(g.bucket, key).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()

	return writeAtomic(localPath, resp.Body)
}

func (g *GCSGateway) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := g.svc.Objects.Get(g.bucket, key).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

func (g *GCSGateway) SignedStreamURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return g.signer.SignedGetURL(g.bucket, key, ttl, time.Now())
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
