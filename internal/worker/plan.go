package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"genforge/internal/domain"
	"genforge/internal/domain/jsoncfg"
	"genforge/internal/providers/image"
)

type StageKind string

const (
	StageRender  StageKind = "render"
	StageCompose StageKind = "compose"
)

// Stage is one generation call. Inputs index earlier stages whose outputs are
// passed as references.
type Stage struct {
	Index  int
	Name   string
	Kind   StageKind
	Prompt string
	Inputs []int
}

type Plan struct {
	Params jsoncfg.GenerationParams
	Stages []Stage
}

// Final returns the stage whose output is the job result.
func (p Plan) Final() Stage {
	return p.Stages[len(p.Stages)-1]
}

// Progress formats the advisory progress text for a stage.
func (p Plan) Progress(s Stage) string {
	return fmt.Sprintf("stage %d/%d: %s", s.Index+1, len(p.Stages), s.Name)
}

// BuildPlan turns a job payload into stages. A plain prompt is a single render.
// Characters or panels render one stage per item followed by a compose stage
// consuming all of them.
func BuildPlan(raw json.RawMessage) (Plan, error) {
	params, err := jsoncfg.ParseParams(raw)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	plan := Plan{Params: params}
	title := cases.Title(language.Und)

	switch {
	case len(params.Characters) > 0:
		for _, c := range params.Characters {
			plan.add(StageRender, "character "+title.String(strings.TrimSpace(c.Name)), image.CharacterPrompt(params, c), nil)
		}
		plan.compose("compose scene", image.ComposePrompt(params))
	case len(params.Panels) > 0:
		for i, panel := range params.Panels {
			plan.add(StageRender, fmt.Sprintf("panel %d", i+1), image.PanelPrompt(params, i, panel), nil)
		}
		plan.compose("compose page", image.ComposePrompt(params))
	default:
		plan.add(StageRender, "render", image.SinglePrompt(params), nil)
	}
	return plan, nil
}

func (p *Plan) add(kind StageKind, name, prompt string, inputs []int) {
	p.Stages = append(p.Stages, Stage{
		Index:  len(p.Stages),
		Name:   name,
		Kind:   kind,
		Prompt: prompt,
		Inputs: inputs,
	})
}

func (p *Plan) compose(name, prompt string) {
	inputs := make([]int, len(p.Stages))
	for i := range p.Stages {
		inputs[i] = i
	}
	p.add(StageCompose, name, prompt, inputs)
}
