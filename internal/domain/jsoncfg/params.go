package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CharacterSpec describes one character rendered on its own before the
// composition stage.
type CharacterSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PanelSpec describes one panel of a multi-panel page.
type PanelSpec struct {
	Caption     string `json:"caption"`
	Description string `json:"description"`
}

type ExtrasConfig struct {
	Locale  string `json:"locale"`
	Quality string `json:"quality"`
}

// GenerationParams is the job payload persisted at admission and interpreted
// by the worker.
type GenerationParams struct {
	Version     string          `json:"version"`
	Prompt      string          `json:"prompt"`
	Style       string          `json:"style"`
	AspectRatio string          `json:"aspect_ratio"`
	Characters  []CharacterSpec `json:"characters,omitempty"`
	Panels      []PanelSpec     `json:"panels,omitempty"`
	Extras      ExtrasConfig    `json:"extras"`
}

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"16:9": {},
	"9:16": {},
}

const (
	DefaultParamsVersion = "2024-06"
	DefaultAspectRatio   = "1:1"
	DefaultStyle         = "illustration"
	DefaultExtrasLocale  = "en"
	DefaultExtrasQuality = "standard"

	MaxCharacters = 4
	MaxPanels     = 6
	MaxPromptLen  = 2000
)

// Normalize fills server defaults.
func (p *GenerationParams) Normalize() {
	if p == nil {
		return
	}
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.Version == "" {
		p.Version = DefaultParamsVersion
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	if strings.TrimSpace(p.Style) == "" {
		p.Style = DefaultStyle
	}
	if p.Extras.Locale == "" {
		p.Extras.Locale = DefaultExtrasLocale
	}
	if p.Extras.Quality == "" {
		p.Extras.Quality = DefaultExtrasQuality
	}
}

// Validate ensures the params can be turned into a pipeline.
func (p GenerationParams) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if len([]rune(p.Prompt)) > MaxPromptLen {
		return fmt.Errorf("prompt must be at most %d characters", MaxPromptLen)
	}
	if _, ok := allowedAspectRatios[p.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of 1:1, 4:3, 3:4, 16:9, 9:16")
	}
	if len(p.Characters) > 0 && len(p.Panels) > 0 {
		return fmt.Errorf("characters and panels cannot be combined")
	}
	if len(p.Characters) > MaxCharacters {
		return fmt.Errorf("at most %d characters are supported", MaxCharacters)
	}
	if len(p.Panels) > MaxPanels {
		return fmt.Errorf("at most %d panels are supported", MaxPanels)
	}
	for i, c := range p.Characters {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("characters[%d].name is required", i)
		}
	}
	for i, panel := range p.Panels {
		if strings.TrimSpace(panel.Description) == "" {
			return fmt.Errorf("panels[%d].description is required", i)
		}
	}
	return nil
}

// ParseParams decodes, normalizes and validates a raw payload.
func ParseParams(raw []byte) (GenerationParams, error) {
	var p GenerationParams
	if len(raw) == 0 {
		return p, fmt.Errorf("payload is empty")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
