package image

import (
	"context"
	"strings"
)

// Artifact is one generated image.
type Artifact struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Empty reports whether the artifact carries no bytes.
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// Request describes a single render or compose call.
type Request struct {
	Prompt      string
	AspectRatio string
	Style       string
	References  []Artifact
	RequestID   string
}

// Generator is the contract implemented by all image backends. It is an
// opaque, fallible capability: errors may be transient or permanent.
type Generator interface {
	Generate(ctx context.Context, req Request) (Artifact, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Artifact, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Artifact, error) {
	return f(ctx, req)
}

// NormalizeContentType lowercases and strips parameters.
func NormalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
