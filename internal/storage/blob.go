// Package storage persists generated artifacts and returns their public
// references.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// BlobStore uploads one artifact and returns a reference clients can fetch.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

// KeyPrefix is the common prefix of generated image keys.
const KeyPrefix = "generated/images/"

// ContentKey derives a content-addressed key, so uploading the same bytes
// twice targets the same object.
func ContentKey(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("storage: empty artifact")
	}
	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:16]) + extensionFor(contentType), nil
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

func publicURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return key
	}
	return base + "/" + key
}
