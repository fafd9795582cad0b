package versions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"blockyard/internal/versions"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2.5", "3.1", -1},
		{"3.1", "2.5", 1},
		{"1.0.0", "1.0", 0},
		{"v2.0.1", "2.0.0", 1},
		{"5.4.0-SNAPSHOT", "5.4.0", -1},
		{"1.20.4", "1.20.10", -1},
		{"build-45", "build-100", -1},
		{"b45", "2.0", -1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, versions.Compare(tt.a, tt.b))
		})
	}
}

func TestSatisfies(t *testing.T) {
	assert.True(t, versions.Satisfies("2.5", "2.0", ""))
	assert.False(t, versions.Satisfies("1.9", "2.0", ""))
	assert.True(t, versions.Satisfies("1.5", "", "1.5"))
	assert.False(t, versions.Satisfies("1.6", "", "1.5"))
	assert.True(t, versions.Satisfies("anything", "", ""))
}

func TestOverlaps(t *testing.T) {
	assert.False(t, versions.Overlaps("2.0", "", "", "1.5"))
	assert.True(t, versions.Overlaps("2.0", "", "3.0", ""))
	assert.True(t, versions.Overlaps("1.0", "2.0", "2.0", "3.0"))
	assert.False(t, versions.Overlaps("1.0", "1.9", "2.0", "3.0"))
}

func TestMatchGame(t *testing.T) {
	assert.True(t, versions.MatchGame("1.20.x", "1.20.4"))
	assert.True(t, versions.MatchGame("1.20.x", "1.20"))
	assert.False(t, versions.MatchGame("1.20.x", "1.21"))
	assert.True(t, versions.MatchGame("1.20.4", "1.20.4"))
	assert.False(t, versions.MatchGame("1.20", "1.20.4"))
}

func TestCompare_Antisymmetric(t *testing.T) {
	gen := rapid.StringMatching(`v?[0-9]{1,2}(\.[0-9]{1,2}){0,2}(-[a-z]{1,4})?`)
	rapid.Check(t, func(t *rapid.T) {
		a := gen.Draw(t, "a")
		b := gen.Draw(t, "b")
		if versions.Compare(a, b) != -versions.Compare(b, a) {
			t.Fatalf("Compare(%q,%q) not antisymmetric", a, b)
		}
	})
}
