package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"dialix-pipeline/internal/config"
)

func TestFolderAndKey(t *testing.T) {
	t.Parallel()

	if got := FolderName("  Najot Talim Call Center "); got != "najot_talim_call_center" {
		t.Fatalf("unexpected folder %q", got)
	}
	if got := ObjectKey("acme", "abc.mp3"); got != "acme/abc.mp3" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLocalGatewayRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	work := t.TempDir()
	g := NewLocalGateway(root, "http://localhost:8080", "secret")
	ctx := context.Background()

	src := filepath.Join(work, "in.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if err := g.Upload(ctx, "acme/in.mp3", src); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ok, err := g.Exists(ctx, "acme/in.mp3")
	if err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}

	dst := filepath.Join(work, "out", "in.mp3")
	if err := g.Download(ctx, "acme/in.mp3", dst); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "audio" {
		t.Fatalf("unexpected downloaded content %q err=%v", data, err)
	}
}

func TestLocalGatewayMissingObject(t *testing.T) {
	t.Parallel()

	g := NewLocalGateway(t.TempDir(), "", "secret")
	err := g.Download(context.Background(), "acme/missing.mp3", filepath.Join(t.TempDir(), "x.mp3"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}

	ok, err := g.Exists(context.Background(), "acme/missing.mp3")
	if err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}

	if err := g.Upload(context.Background(), "../escape", "nope"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLocalGatewaySignedURL(t *testing.T) {
	t.Parallel()

	g := NewLocalGateway(t.TempDir(), "http://localhost:8080/", "secret")
	fixed := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return fixed }

	raw, err := g.SignedStreamURL(context.Background(), "acme/a.mp3", time.Hour)
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Path != "/blobs/acme/a.mp3" {
		t.Fatalf("unexpected path %q", u.Path)
	}
	expires, _ := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if !g.Verify("acme/a.mp3", expires, u.Query().Get("signature")) {
		t.Fatal("expected signature to verify")
	}
	if g.Verify("acme/b.mp3", expires, u.Query().Get("signature")) {
		t.Fatal("signature must not verify for another key")
	}

	g.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	if g.Verify("acme/a.mp3", expires, u.Query().Get("signature")) {
		t.Fatal("expired signature must not verify")
	}
}

func TestStagingSaveAndRemove(t *testing.T) {
	t.Parallel()

	s := Staging{Dir: filepath.Join(t.TempDir(), "uploads")}
	path, err := s.Save("abc.mp3", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !s.Exists("abc.mp3") {
		t.Fatalf("expected staged file at %s", path)
	}
	s.Remove("abc.mp3")
	s.Remove("abc.mp3")
	if s.Exists("abc.mp3") {
		t.Fatal("expected staged file to be removed")
	}
}

func TestURLSignerV4(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	signer, err := NewURLSigner("svc@project.iam.gserviceaccount.com", pemKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	now := time.Date(2024, 8, 24, 7, 45, 28, 0, time.UTC)
	raw, err := signer.SignedGetURL("dialix", "acme/a b.mp3", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("X-Goog-Expires") != "86400" || q.Get("X-Goog-Date") != "20240824T074528Z" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("X-Goog-Credential") != "svc@project.iam.gserviceaccount.com/20240824/auto/storage/goog4_request" {
		t.Fatalf("unexpected credential %q", q.Get("X-Goog-Credential"))
	}

	_, _, stringToSign := signer.v4Request("dialix", "acme/a b.mp3", 24*time.Hour, now)
	sig, err := hex.DecodeString(q.Get("X-Goog-Signature"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(stringToSign))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestNewStorageID(t *testing.T) {
	t.Parallel()

	id := NewStorageID("Call Recording.MP3")
	if !strings.HasSuffix(id, ".mp3") || len(id) != 36+4 {
		t.Fatalf("unexpected storage id %q", id)
	}
	if NewStorageID("noext") == NewStorageID("noext") {
		t.Fatalf("storage ids must be unique")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	g, err := Open(context.Background(), config.StorageConfig{Backend: "local", LocalRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	if _, ok := g.(*LocalGateway); !ok {
		t.Fatalf("expected local gateway, got %T", g)
	}

	if _, err := Open(context.Background(), config.StorageConfig{Backend: "s3"}); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}
