package image

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"genforge/internal/domain/jsoncfg"
)

// DefaultNegativePrompt captures undesirable artefacts we want the model to avoid.
const DefaultNegativePrompt = "low quality, blurry, distorted, incorrect anatomy, extra limbs, text artefacts, watermark"

// titleCaser picks a caser for the params locale, falling back to Und.
func titleCaser(p jsoncfg.GenerationParams) cases.Caser {
	tag, err := language.Parse(p.Extras.Locale)
	if err != nil {
		tag = language.Und
	}
	return cases.Title(tag)
}

// SinglePrompt is the instruction for a one-stage job.
func SinglePrompt(p jsoncfg.GenerationParams) string {
	lines := []string{p.Prompt}
	return finish(p, lines)
}

// CharacterPrompt renders one character on a neutral background so the
// composition stage can reuse it as a reference.
func CharacterPrompt(p jsoncfg.GenerationParams, c jsoncfg.CharacterSpec) string {
	name := titleCaser(p).String(strings.TrimSpace(c.Name))
	lines := []string{fmt.Sprintf("Character sheet for %s: full body, neutral pose, plain light background.", name)}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, "Appearance: "+d+".")
	}
	lines = append(lines, "Story context: "+p.Prompt)
	return finish(p, lines)
}

// PanelPrompt renders one panel of a page.
func PanelPrompt(p jsoncfg.GenerationParams, index int, panel jsoncfg.PanelSpec) string {
	lines := []string{fmt.Sprintf("Panel %d of %d: %s", index+1, len(p.Panels), strings.TrimSpace(panel.Description))}
	if caption := strings.TrimSpace(panel.Caption); caption != "" {
		lines = append(lines, fmt.Sprintf("Leave room for the caption %q.", caption))
	}
	lines = append(lines, "Story context: "+p.Prompt)
	return finish(p, lines)
}

// ComposePrompt merges prior stage outputs into the final image.
func ComposePrompt(p jsoncfg.GenerationParams) string {
	c := titleCaser(p)
	var lines []string
	switch {
	case len(p.Characters) > 0:
		names := make([]string, 0, len(p.Characters))
		for _, ch := range p.Characters {
			names = append(names, c.String(strings.TrimSpace(ch.Name)))
		}
		lines = append(lines,
			fmt.Sprintf("Compose one scene featuring %s, matching each attached character reference exactly.", strings.Join(names, ", ")),
			"Scene: "+p.Prompt)
	case len(p.Panels) > 0:
		lines = append(lines,
			fmt.Sprintf("Arrange the %d attached panels in reading order into a single page with consistent gutters.", len(p.Panels)),
			"Page theme: "+p.Prompt)
	default:
		lines = append(lines, p.Prompt)
	}
	return finish(p, lines)
}

func finish(p jsoncfg.GenerationParams, lines []string) string {
	lines = append(lines, fmt.Sprintf("Visual style: %s.", p.Style))
	quality := strings.TrimSpace(p.Extras.Quality)
	if quality == "" {
		quality = jsoncfg.DefaultExtrasQuality
	}
	lines = append(lines, fmt.Sprintf("Render with %s quality, sharp focus and clean linework.", quality))
	lines = append(lines, "Avoid: "+DefaultNegativePrompt+".")
	return strings.Join(lines, "\n")
}
