package verifier

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	v := Default()
	tests := []struct {
		name    string
		prior   int
		heading string
		want    Verdict
		level   int
	}{
		{"single step", 2, "Level 3", Advanced, 3},
		{"same level", 2, "Level 2", NoChange, 2},
		{"jump", 2, "Level 5", Anomalous, 5},
		{"regression", 4, "Level 3", Anomalous, 3},
		{"hint text", 2, "Hint: the word is blue", Anomalous, 0},
		{"empty", 1, "", Anomalous, 0},
		{"case and spacing", 1, "  LEVEL \n 2 ", Advanced, 2},
		{"embedded", 7, "HackMerlin - Level 8 of 8", Advanced, 8},
		{"level zero unparsable", 0, "Level 0", Anomalous, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.Check(tt.prior, tt.heading)
			assert.Equal(t, tt.want, r.Verdict)
			assert.Equal(t, tt.level, r.Level)
			if r.Verdict == Anomalous {
				assert.NotEmpty(t, r.Reason)
			}
		})
	}
}

func TestAdvancedOnlyOnIncrement(t *testing.T) {
	v := Default()
	for prior := 1; prior <= 8; prior++ {
		for n := 1; n <= 10; n++ {
			r := v.Check(prior, "Level "+strconv.Itoa(n))
			assert.Equal(t, n == prior+1, r.Verdict == Advanced, "prior=%d n=%d", prior, n)
		}
	}
}

func TestCustomPattern(t *testing.T) {
	v, err := New(`Stage\s+(\d+)`)
	require.NoError(t, err)

	assert.Equal(t, Advanced, v.Check(1, "Stage 2").Verdict)
	assert.Equal(t, Anomalous, v.Check(1, "Level 2").Verdict)

	_, err = New(`Level \d+`)
	assert.Error(t, err)
	_, err = New(`(`)
	assert.Error(t, err)
}
