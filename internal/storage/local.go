package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalGateway keeps blobs under a directory on disk.
type LocalGateway struct {
	Root          string
	PublicBaseURL string
	SigningKey    []byte
	now           func() time.Time
}

func NewLocalGateway(root, publicBaseURL, signingKey string) *LocalGateway {
	return &LocalGateway{
		Root:          root,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		SigningKey:    []byte(signingKey),
		now:           time.Now,
	}
}

func (g *LocalGateway) objectPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(g.Root, clean), nil
}

func (g *LocalGateway) Upload(ctx context.Context, key, localPath string) error {
	dst, err := g.objectPath(key)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	return writeAtomic(dst, f)
}

// Download copies key to localPath. An existing localPath is left as is.
func (g *LocalGateway) Download(ctx context.Context, key, localPath string) error {
	if _, err := os.Stat(localPath); err == nil {
		return nil
	}
	src, err := g.objectPath(key)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer f.Close()
	return writeAtomic(localPath, f)
}

func (g *LocalGateway) Exists(ctx context.Context, key string) (bool, error) {
	p, err := g.objectPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Path resolves key to its file under Root.
func (g *LocalGateway) Path(key string) (string, error) {
	return g.objectPath(key)
}

// SignedStreamURL returns an expiring HMAC-signed URL for key.
func (g *LocalGateway) SignedStreamURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := g.objectPath(key); err != nil {
		return "", err
	}
	expires := g.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", g.sign(key, expires))
	return g.PublicBaseURL + "/blobs/" + key + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedStreamURL.
func (g *LocalGateway) Verify(key string, expires int64, signature string) bool {
	if g.now().Unix() > expires {
		return false
	}
	want := g.sign(key, expires)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (g *LocalGateway) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, g.SigningKey)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
