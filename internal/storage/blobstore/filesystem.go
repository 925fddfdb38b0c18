// Package blobstore publishes final videos under shareable URLs.
package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidKey       = errors.New("blobstore: invalid key")
	ErrInvalidSignature = errors.New("blobstore: invalid signature")
	ErrExpired          = errors.New("blobstore: link expired")
)

// Store is the object storage used for published artifacts.
type Store interface {
	PutObject(ctx context.Context, key string, body io.Reader) (string, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// FilesystemStore writes objects below a base directory and signs links
// with an HMAC over key and expiry.
type FilesystemStore struct {
	baseDir   string
	publicURL string
	secret    []byte
	now       func() time.Time
}

// NewFilesystemStore creates a store rooted at baseDir. When publicURL is
// empty, links use the file scheme and are unsigned.
func NewFilesystemStore(baseDir, publicURL, secret string) (*FilesystemStore, error) {
	if baseDir == "" {
		baseDir = "data/blobs"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FilesystemStore{
		baseDir:   baseDir,
		publicURL: strings.TrimRight(publicURL, "/"),
		secret:    []byte(secret),
		now:       time.Now,
	}, nil
}

// cleanKey rejects keys that would escape the base directory.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// Path returns the on-disk location of key.
func (s *FilesystemStore) Path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(k)), nil
}

func (s *FilesystemStore) PutObject(ctx context.Context, key string, body io.Reader) (string, error) {
	target, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("ensure blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: body}); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return key, nil
}

// PutFile copies the file at src into key.
func (s *FilesystemStore) PutFile(ctx context.Context, key, src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	return s.PutObject(ctx, key, f)
}

func (s *FilesystemStore) GetSignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.publicURL == "" {
		abs, err := filepath.Abs(filepath.Join(s.baseDir, filepath.FromSlash(k)))
		if err != nil {
			return "", err
		}
		return (&url.URL{Scheme: "file", Path: abs}).String(), nil
	}
	u, err := url.Parse(s.publicURL)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	u.Path = path.Join(u.Path, k)
	q := u.Query()
	var expires int64
	if expiry > 0 {
		expires = s.now().Add(expiry).Unix()
		q.Set("expires", strconv.FormatInt(expires, 10))
	}
	if len(s.secret) > 0 {
		q.Set("sig", s.sign(k, expires))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *FilesystemStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the expires and sig query values of a link produced by
// GetSignedURL. Without a secret every unexpired link is accepted.
func (s *FilesystemStore) Verify(key, expires, sig string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	var exp int64
	if expires != "" {
		exp, err = strconv.ParseInt(expires, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		if s.now().Unix() > exp {
			return ErrExpired
		}
	}
	if len(s.secret) == 0 {
		return nil
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(k, exp))) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *FilesystemStore) DeleteObject(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	target, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	_ = os.Remove(filepath.Dir(target)) // only succeeds when empty
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
