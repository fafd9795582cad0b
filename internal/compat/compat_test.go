package compat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockyard/internal/compat"
	"blockyard/internal/domain"
)

func paper() domain.ServerConfig {
	return domain.ServerConfig{Type: domain.ServerPaper, GameVersion: "1.20.4", RuntimeVersion: 17}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		desc    domain.PluginDescriptor
		cfg     domain.ServerConfig
		verdict domain.Verdict
		reason  string
	}{
		{
			name: "bukkit plugin on paper",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"bukkit"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.20.4"}},
			},
			cfg:     paper(),
			verdict: domain.Compatible,
		},
		{
			name: "fabric mod on paper",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"fabric"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.20.4"}},
			},
			cfg:     paper(),
			verdict: domain.Incompatible,
			reason:  "built for fabric",
		},
		{
			name:    "vanilla loads nothing",
			desc:    domain.PluginDescriptor{ServerTypes: []string{"paper"}},
			cfg:     domain.ServerConfig{Type: domain.ServerVanilla, GameVersion: "1.20.4"},
			verdict: domain.Incompatible,
			reason:  "do not load plugins",
		},
		{
			name: "unrecognized categories only",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"utility", "economy"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.20.4"}},
			},
			cfg:     paper(),
			verdict: domain.Unknown,
			reason:  "no platform metadata",
		},
		{
			name: "wildcard game version",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.19.x", "1.20.x"}},
			},
			cfg:     paper(),
			verdict: domain.Compatible,
		},
		{
			name: "family game version",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"spigot"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.19", "1.20"}},
			},
			cfg:     paper(),
			verdict: domain.Compatible,
		},
		{
			name: "game version not listed",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.18.2", "1.19.4"}},
			},
			cfg:     paper(),
			verdict: domain.Incompatible,
			reason:  "server runs 1.20.4",
		},
		{
			name: "inside range",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Min: "1.19", Max: "1.20.6"},
			},
			cfg:     paper(),
			verdict: domain.Compatible,
		},
		{
			name: "below range",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Min: "1.21"},
			},
			cfg:     paper(),
			verdict: domain.Incompatible,
			reason:  "1.21 and newer",
		},
		{
			name: "unparseable range bound",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Min: "latest"},
			},
			cfg:     paper(),
			verdict: domain.Unknown,
			reason:  "not comparable",
		},
		{
			name: "runtime too old",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.20.4"}},
				MinRuntime:   21,
			},
			cfg:     paper(),
			verdict: domain.Incompatible,
			reason:  "requires runtime 21, server has 17",
		},
		{
			name: "runtime unknown",
			desc: domain.PluginDescriptor{
				ServerTypes:  []string{"paper"},
				GameVersions: domain.GameVersionRange{Versions: []string{"1.20.4"}},
				MinRuntime:   17,
			},
			cfg:     domain.ServerConfig{Type: domain.ServerPaper, GameVersion: "1.20.4"},
			verdict: domain.Unknown,
			reason:  "server runtime unknown",
		},
		{
			name:    "missing metadata accumulates",
			desc:    domain.PluginDescriptor{},
			cfg:     paper(),
			verdict: domain.Unknown,
			reason:  "no platform metadata; no game version metadata",
		},
		{
			name: "incompatible type beats unknown version",
			desc: domain.PluginDescriptor{
				ServerTypes: []string{"velocity"},
			},
			cfg:     paper(),
			verdict: domain.Incompatible,
			reason:  "built for velocity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compat.Check(tt.desc, tt.cfg)
			assert.Equal(t, tt.verdict, got.Verdict, got.Reason)
			if tt.reason != "" {
				assert.Contains(t, got.Reason, tt.reason)
			}
		})
	}
}

func TestValidatorFilter(t *testing.T) {
	v := compat.NewValidator(paper())
	ok := domain.PluginDescriptor{Name: "ok", Version: "1", Source: "s", ServerTypes: []string{"paper"},
		GameVersions: domain.GameVersionRange{Versions: []string{"1.20.4"}}}
	maybe := domain.PluginDescriptor{Name: "maybe", Version: "1", Source: "s", ServerTypes: []string{"paper"}}
	bad := domain.PluginDescriptor{Name: "bad", Version: "1", Source: "s", ServerTypes: []string{"forge"}}

	b := v.Filter([]domain.PluginDescriptor{bad, ok, maybe})
	require.Len(t, b.Compatible, 1)
	require.Len(t, b.Unknown, 1)
	require.Len(t, b.Incompatible, 1)
	assert.Equal(t, "ok", b.Compatible[0].Name)
	assert.Equal(t, "maybe", b.Unknown[0].Name)
	assert.Equal(t, "bad", b.Incompatible[0].Name)
	assert.Contains(t, b.Reasons[bad.Ref()], "forge")
	assert.NotContains(t, b.Reasons, ok.Ref())
}
