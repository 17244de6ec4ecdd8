package worker

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"genforge/internal/domain"
)

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantNames []string
		wantLast  []int
	}{
		{name: "single", payload: `{"prompt":"a fox"}`, wantNames: []string{"render"}},
		{
			name:      "characters",
			payload:   `{"prompt":"a picnic","characters":[{"name":"ana lee"},{"name":"bo"}]}`,
			wantNames: []string{"character Ana Lee", "character Bo", "compose scene"},
			wantLast:  []int{0, 1},
		},
		{
			name:      "panels",
			payload:   `{"prompt":"heist","panels":[{"description":"vault"},{"description":"run"},{"description":"getaway"}]}`,
			wantNames: []string{"panel 1", "panel 2", "panel 3", "compose page"},
			wantLast:  []int{0, 1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := BuildPlan(json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("BuildPlan error: %v", err)
			}
			var names []string
			for i, s := range plan.Stages {
				if s.Index != i {
					t.Fatalf("stage %d has index %d", i, s.Index)
				}
				names = append(names, s.Name)
			}
			if !reflect.DeepEqual(names, tt.wantNames) {
				t.Fatalf("stages = %v, want %v", names, tt.wantNames)
			}
			final := plan.Final()
			if len(tt.wantLast) > 0 && (final.Kind != StageCompose || !reflect.DeepEqual(final.Inputs, tt.wantLast)) {
				t.Fatalf("final stage = %+v", final)
			}
		})
	}
}

func TestBuildPlanRejectsMalformedPayload(t *testing.T) {
	for _, raw := range []string{`{`, `{"prompt":""}`, `{"prompt":"x","characters":[{"name":"a"}],"panels":[{"description":"b"}]}`} {
		if _, err := BuildPlan(json.RawMessage(raw)); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("BuildPlan(%s) error = %v, want ErrInvalidInput", raw, err)
		}
	}
}

func TestStageErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := error(&StageError{Index: 1, Name: "panel 2", Err: cause})
	if !errors.Is(err, ErrStageFailed) || !errors.Is(err, cause) {
		t.Fatalf("StageError should match both sentinel and cause: %v", err)
	}
	if err.Error() != "stage 2 (panel 2): boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
