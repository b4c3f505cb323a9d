package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func managerSays(score int, finished bool) ManagerOutput {
	return ManagerOutput{SufficiencyScore: score, IsFinished: finished}
}

func TestDecide(t *testing.T) {
	deep := RunConfig{Mode: ModeDeep, MinIterations: 3, MaxIterations: 6}
	deepUnbounded := RunConfig{Mode: ModeDeep, MinIterations: 3, MaxIterations: Unbounded}
	standard := RunConfig{Mode: ModeStandard, MinIterations: 3, MaxIterations: 1}

	tests := []struct {
		name      string
		cfg       RunConfig
		iteration int
		out       ManagerOutput
		want      Decision
	}{
		{"standard continues below threshold", standard, 0, managerSays(40, false), Decision{}},
		{"standard finishes on flag", standard, 0, managerSays(10, true), Decision{Finished: true}},
		{"standard finishes on score 95", standard, 0, managerSays(95, false), Decision{Finished: true}},
		{"standard ignores caps", standard, 5, managerSays(10, false), Decision{}},
		{"deep forces continue before minimum", deep, 0, managerSays(99, true), Decision{Override: OverrideMinIterations}},
		{"deep forces continue just below minimum", deep, 2, managerSays(96, false), Decision{Override: OverrideMinIterations}},
		{"deep finishes at minimum", deep, 3, managerSays(96, false), Decision{Finished: true}},
		{"deep continues when not finished", deep, 4, managerSays(60, false), Decision{}},
		{"deep forces stop at maximum", deep, 6, managerSays(20, false), Decision{Finished: true, Override: OverrideMaxIterations}},
		{"deep forces stop beyond maximum", deep, 9, managerSays(20, false), Decision{Finished: true, Override: OverrideMaxIterations}},
		{"deep unbounded never forces stop", deepUnbounded, 500, managerSays(20, false), Decision{}},
		{"max wins over min", RunConfig{Mode: ModeDeep, MinIterations: 10, MaxIterations: 2}, 2, managerSays(99, true), Decision{Finished: true, Override: OverrideMaxIterations}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.cfg, tt.iteration, tt.out)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, got.Check(tt.cfg, tt.iteration))
		})
	}
}

func TestDecideNeverWritesBeforeMinimum(t *testing.T) {
	for m := 0; m <= 8; m++ {
		cfg := RunConfig{Mode: ModeDeep, MinIterations: m}
		for it := 0; it < m; it++ {
			d := Decide(cfg, it, managerSays(100, true))
			assert.Equal(t, StateWorker, d.Next(), "min=%d iteration=%d", m, it)
		}
	}
}

func TestDecideAlwaysWritesAtMaximum(t *testing.T) {
	for max := 1; max <= 8; max++ {
		cfg := RunConfig{Mode: ModeDeep, MaxIterations: max}
		d := Decide(cfg, max, managerSays(0, false))
		assert.Equal(t, StateWriter, d.Next(), "max=%d", max)
	}
}

func TestDecisionCheck(t *testing.T) {
	cfg := RunConfig{Mode: ModeDeep, MinIterations: 3, MaxIterations: 5}

	var pv *PolicyViolationError
	err := Decision{Finished: true}.Check(cfg, 1)
	assert.ErrorAs(t, err, &pv)

	err = Decision{Finished: false}.Check(cfg, 5)
	assert.ErrorAs(t, err, &pv)
}
