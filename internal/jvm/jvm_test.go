package jvm_test

import (
	"errors"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"blockyard/internal/domain"
	"blockyard/internal/jvm"
)

func serverConfig(ram int, profile string) domain.ServerConfig {
	return domain.ServerConfig{
		Type:           domain.ServerPaper,
		GameVersion:    "1.20.4",
		RAMMB:          ram,
		RuntimeVersion: 21,
		FlagProfile:    profile,
		JarName:        "server.jar",
	}
}

func heapFlag(t *testing.T, flags []string, prefix string) int {
	t.Helper()
	for _, f := range flags {
		if len(f) > len(prefix) && f[:len(prefix)] == prefix {
			n, err := strconv.Atoi(f[len(prefix) : len(f)-1])
			require.NoError(t, err)
			return n
		}
	}
	t.Fatalf("flag %s not found in %v", prefix, flags)
	return 0
}

func TestSynthesize_LowMemoryScenario(t *testing.T) {
	flags, err := jvm.Synthesize(serverConfig(2048, jvm.ProfileLowMemory))
	require.NoError(t, err)

	assert.Contains(t, flags, "-XX:+UseSerialGC")
	assert.Equal(t, 2048-jvm.HeadroomMB, heapFlag(t, flags, "-Xmx"))
	assert.Equal(t, 2048-jvm.HeadroomMB, jvm.MaxHeapFlag(flags))
	assert.NotContains(t, flags, "-XX:+UseG1GC")
}

func TestSynthesize_Profiles(t *testing.T) {
	tests := []struct {
		name    string
		ram     int
		profile string
		runtime int
		want    []string
		absent  []string
	}{
		{"default small heap", 4096, jvm.ProfileDefault, 17, []string{"-XX:+UseG1GC", "-XX:G1HeapRegionSize=8M"}, []string{"-XX:+UseZGC"}},
		{"default large heap", 16384, jvm.ProfileDefault, 17, []string{"-XX:+UseG1GC", "-XX:G1HeapRegionSize=16M"}, nil},
		{"empty profile means default", 4096, "", 17, []string{"-XX:+UseG1GC"}, nil},
		{"zgc on 17", 8192, jvm.ProfileHighPerformance, 17, []string{"-XX:+UseZGC"}, []string{"-XX:+ZGenerational"}},
		{"zgc on 21", 8192, jvm.ProfileHighPerformance, 21, []string{"-XX:+UseZGC", "-XX:+ZGenerational"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := serverConfig(tt.ram, tt.profile)
			cfg.RuntimeVersion = tt.runtime
			flags, err := jvm.Synthesize(cfg)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, flags, w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, flags, a)
			}
			assert.Equal(t, "-Xms", flags[0][:4], "heap bounds come first")
			assert.Equal(t, "-Xmx", flags[1][:4], "heap bounds come first")
		})
	}
}

func TestSynthesize_ExtraFlagsLast(t *testing.T) {
	cfg := serverConfig(4096, jvm.ProfileDefault)
	cfg.ExtraFlags = []string{"-Dfile.encoding=UTF-8"}
	flags, err := jvm.Synthesize(cfg)
	require.NoError(t, err)
	assert.Equal(t, "-Dfile.encoding=UTF-8", flags[len(flags)-1])
}

func TestSynthesize_Errors(t *testing.T) {
	_, err := jvm.Synthesize(serverConfig(jvm.MinViableRAMMB-1, jvm.ProfileDefault))
	assert.True(t, errors.Is(err, domain.ErrInvalidRAM))
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))

	_, err = jvm.Synthesize(serverConfig(4096, "turbo"))
	assert.True(t, errors.Is(err, domain.ErrUnknownProfile))
}

func TestHeap_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ram := rapid.IntRange(jvm.MinViableRAMMB, 256*1024).Draw(t, "ram")
		profile := rapid.SampledFrom(jvm.Profiles).Draw(t, "profile")

		minMB, maxMB, err := jvm.Heap(ram, profile)
		if err != nil {
			t.Fatalf("Heap(%d, %s) unexpected error: %v", ram, profile, err)
		}
		if maxMB < minMB {
			t.Fatalf("max heap %d < min heap %d", maxMB, minMB)
		}
		if maxMB > ram-jvm.HeadroomMB {
			t.Fatalf("max heap %d exceeds ram %d minus headroom", maxMB, ram)
		}
		if minMB <= 0 {
			t.Fatalf("min heap %d not positive", minMB)
		}
	})
}

func TestHeap_BelowThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ram := rapid.IntRange(-1024, jvm.MinViableRAMMB-1).Draw(t, "ram")
		profile := rapid.SampledFrom(jvm.Profiles).Draw(t, "profile")
		if _, _, err := jvm.Heap(ram, profile); !errors.Is(err, domain.ErrInvalidRAM) {
			t.Fatalf("Heap(%d) = %v, want ErrInvalidRAM", ram, err)
		}
	})
}

func TestLaunchArgs(t *testing.T) {
	args, err := jvm.LaunchArgs(serverConfig(4096, jvm.ProfileDefault))
	require.NoError(t, err)
	assert.Equal(t, []string{"-jar", "server.jar", "nogui"}, args[len(args)-3:])

	proxy := serverConfig(1024, jvm.ProfileLowMemory)
	proxy.Type = domain.ServerVelocity
	proxy.JarName = "velocity.jar"
	args, err = jvm.LaunchArgs(proxy)
	require.NoError(t, err)
	assert.False(t, slices.Contains(args, "nogui"))
	assert.Equal(t, "velocity.jar", args[len(args)-1])
}

func TestRequiredRuntime(t *testing.T) {
	tests := map[string]int{
		"1.21.1": 21,
		"1.20.5": 21,
		"1.20.4": 17,
		"1.17":   17,
		"1.16.5": 11,
		"1.12.2": 11,
		"1.8.9":  8,
		"bogus":  17,
	}
	for v, want := range tests {
		assert.Equal(t, want, jvm.RequiredRuntime(v), v)
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		ram     int
		runtime int
		game    string
		want    string
	}{
		{ram: 512, runtime: 21, game: "1.20.4", want: jvm.ProfileLowMemory},
		{ram: 1024, runtime: 21, game: "1.20.4", want: jvm.ProfileLowMemory},
		{ram: 4096, runtime: 21, game: "1.20.4", want: jvm.ProfileDefault},
		{ram: 8192, runtime: 17, game: "1.20.4", want: jvm.ProfileHighPerformance},
		{ram: 16384, runtime: 11, game: "1.16.5", want: jvm.ProfileDefault},
		{ram: 8192, runtime: 0, game: "1.21.1", want: jvm.ProfileHighPerformance},
		{ram: 8192, runtime: 0, game: "1.12.2", want: jvm.ProfileDefault},
	}
	for _, tt := range tests {
		cfg := serverConfig(tt.ram, jvm.ProfileDefault)
		cfg.RuntimeVersion, cfg.GameVersion = tt.runtime, tt.game
		assert.Equal(t, tt.want, jvm.Recommend(cfg), "%d MB, java %d, %s", tt.ram, tt.runtime, tt.game)
	}
}
