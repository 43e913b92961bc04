package reconcile

import (
	"math"
	"testing"
)

func TestThresholdRatio(t *testing.T) {
	type testCase struct {
		name     string
		commands int
		actual   int
		want     float64
	}
	tests := []testCase{
		{"empty directory counts as full change", 0, 0, 100},
		{"empty directory with commands", 5, 0, 100},
		{"no commands", 0, 10, 0},
		{"half the directory", 5, 10, 50},
		{"exactly the directory size", 10, 10, 100},
		{"more commands than entities caps at hundred", 25, 10, 100},
		{"one third", 1, 3, 100.0 / 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := thresholdRatio(test.commands, test.actual)
			if math.Abs(got-test.want) > 1e-9 {
				t.Errorf("thresholdRatio(%d, %d) = %v, want %v",
					test.commands, test.actual, got, test.want)
			}
		})
	}
}
