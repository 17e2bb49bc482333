package pipeline

import (
	"testing"

	"github.com/epicrunze/evocable/internal/types"
)

func TestStages(t *testing.T) {
	stages := Stages()

	t.Run("chain is consistent", func(t *testing.T) {
		for i, d := range stages {
			if i == 0 {
				if d.Entry == d.Active {
					t.Errorf("first stage entry must differ from active, got %s", d.Entry)
				}
			} else {
				if d.Entry != d.Active {
					t.Errorf("stage %s: entry %s != active %s", d.Name, d.Entry, d.Active)
				}
				if stages[i-1].Next != d.Entry {
					t.Errorf("stage %s entry %s does not follow %s next %s",
						d.Name, d.Entry, stages[i-1].Name, stages[i-1].Next)
				}
				if stages[i-1].NextQueue != d.Name {
					t.Errorf("stage %s is not fed by %s", d.Name, stages[i-1].Name)
				}
			}
		}
	})

	t.Run("progress windows ascend", func(t *testing.T) {
		prev := 0
		for _, d := range stages {
			if d.StartPercent != prev {
				t.Errorf("stage %s starts at %d, want %d", d.Name, d.StartPercent, prev)
			}
			if d.DonePercent <= d.StartPercent {
				t.Errorf("stage %s window [%d, %d] is empty", d.Name, d.StartPercent, d.DonePercent)
			}
			prev = d.DonePercent
		}
		if prev != 100 {
			t.Errorf("last stage ends at %d, want 100", prev)
		}
	})

	t.Run("last stage completes", func(t *testing.T) {
		last := stages[len(stages)-1]
		if last.Next != types.StateCompleted || last.NextQueue != "" {
			t.Errorf("last stage = %+v, want Next=completed and no next queue", last)
		}
	})
}

func TestStageForState(t *testing.T) {
	cases := []struct {
		state types.State
		want  string
		ok    bool
	}{
		{types.StatePending, "extract", true},
		{types.StateExtracting, "extract", true},
		{types.StateSegmenting, "segment", true},
		{types.StateSynthesizing, "synthesize", true},
		{types.StatePackaging, "package", true},
		{types.StateCompleted, "", false},
		{types.StateFailed, "", false},
	}
	for _, tc := range cases {
		d, ok := StageForState(tc.state)
		if ok != tc.ok {
			t.Errorf("StageForState(%s) ok = %v, want %v", tc.state, ok, tc.ok)
			continue
		}
		if ok && d.Name != tc.want {
			t.Errorf("StageForState(%s) = %s, want %s", tc.state, d.Name, tc.want)
		}
	}
}
