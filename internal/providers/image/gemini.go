package image

import (
	"context"

	"genforge/internal/providers/genai"
)

// GeminiGenerator renders through the Gemini client.
type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Artifact, error) {
	refs := make([]genai.InlineImage, 0, len(req.References))
	for _, ref := range req.References {
		refs = append(refs, genai.InlineImage{MimeType: ref.ContentType, Data: ref.Data})
	}
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Style:       req.Style,
		References:  refs,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Data:        asset.Data,
		ContentType: asset.Format,
		Width:       asset.Width,
		Height:      asset.Height,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
