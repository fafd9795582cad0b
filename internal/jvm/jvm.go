// Package jvm turns a server configuration into the JVM command line used to
// launch it.
package jvm

import (
	"fmt"
	"strconv"
	"strings"

	"blockyard/internal/domain"
)

// Flag profiles
const (
	ProfileDefault         = "default"
	ProfileLowMemory       = "low_memory"
	ProfileHighPerformance = "high_performance"
)

// Profiles lists every supported flag profile.
var Profiles = []string{ProfileDefault, ProfileLowMemory, ProfileHighPerformance}

const (
	// MinViableRAMMB is the smallest RAM size a server can be launched with.
	MinViableRAMMB = 512
	// HeadroomMB is reserved for metaspace, thread stacks and native buffers.
	HeadroomMB = 256

	largeHeapMB    = 12 * 1024
	minLowMemXmsMB = 128
)

var aikarFlags = []string{
	"-XX:+UseG1GC",
	"-XX:+ParallelRefProcEnabled",
	"-XX:MaxGCPauseMillis=200",
	"-XX:+UnlockExperimentalVMOptions",
	"-XX:+DisableExplicitGC",
	"-XX:+AlwaysPreTouch",
}

var aikarTail = []string{
	"-XX:G1HeapWastePercent=5",
	"-XX:G1MixedGCCountTarget=4",
	"-XX:G1MixedGCLiveThresholdPercent=90",
	"-XX:G1RSetUpdatingPauseTimePercent=5",
	"-XX:SurvivorRatio=32",
	"-XX:+PerfDisableSharedMem",
	"-XX:MaxTenuringThreshold=1",
}

var lowMemoryFlags = []string{
	"-XX:+UseSerialGC",
	"-XX:+UnlockExperimentalVMOptions",
	"-XX:+DisableExplicitGC",
	"-XX:+AlwaysPreTouch",
}

var zgcFlags = []string{
	"-XX:+UseZGC",
	"-XX:+UnlockExperimentalVMOptions",
	"-XX:+AlwaysPreTouch",
	"-XX:+DisableExplicitGC",
	"-XX:-ZUncommit",
	"-XX:+PerfDisableSharedMem",
}

// Heap returns the minimum and maximum heap in megabytes for ramMB under the
// given profile.
func Heap(ramMB int, profile string) (minMB, maxMB int, err error) {
	if ramMB < MinViableRAMMB {
		return 0, 0, &domain.ConfigError{
			Field:   "server.ram_mb",
			Message: fmt.Sprintf("%d MB is below the minimum of %d MB", ramMB, MinViableRAMMB),
			Err:     domain.ErrInvalidRAM,
		}
	}
	maxMB = ramMB - HeadroomMB
	switch profile {
	case ProfileDefault, ProfileHighPerformance:
		minMB = maxMB
	case ProfileLowMemory:
		minMB = min(max(minLowMemXmsMB, maxMB/4), maxMB)
	default:
		return 0, 0, unknownProfile(profile)
	}
	return minMB, maxMB, nil
}

// Synthesize returns the ordered JVM flags for cfg: heap bounds, then the
// profile's collector flags, then any configured extra flags.
func Synthesize(cfg domain.ServerConfig) ([]string, error) {
	profile := cfg.FlagProfile
	if profile == "" {
		profile = ProfileDefault
	}
	minMB, maxMB, err := Heap(cfg.RAMMB, profile)
	if err != nil {
		return nil, err
	}

	flags := []string{
		"-Xms" + strconv.Itoa(minMB) + "M",
		"-Xmx" + strconv.Itoa(maxMB) + "M",
	}
	switch profile {
	case ProfileDefault:
		flags = append(flags, aikarFlags...)
		flags = append(flags, g1Sizing(maxMB)...)
		flags = append(flags, aikarTail...)
	case ProfileLowMemory:
		flags = append(flags, lowMemoryFlags...)
	case ProfileHighPerformance:
		flags = append(flags, zgcFlags...)
		if cfg.RuntimeVersion >= 21 {
			flags = append(flags, "-XX:+ZGenerational")
		}
	}
	return append(flags, cfg.ExtraFlags...), nil
}

// g1Sizing returns the young-generation and region flags, which differ above
// 12 GB of heap.
func g1Sizing(maxMB int) []string {
	if maxMB >= largeHeapMB {
		return []string{
			"-XX:G1NewSizePercent=40",
			"-XX:G1MaxNewSizePercent=50",
			"-XX:G1HeapRegionSize=16M",
			"-XX:G1ReservePercent=15",
			"-XX:InitiatingHeapOccupancyPercent=20",
		}
	}
	return []string{
		"-XX:G1NewSizePercent=30",
		"-XX:G1MaxNewSizePercent=40",
		"-XX:G1HeapRegionSize=8M",
		"-XX:G1ReservePercent=20",
		"-XX:InitiatingHeapOccupancyPercent=15",
	}
}

// LaunchArgs returns the full argument vector after the runtime binary.
func LaunchArgs(cfg domain.ServerConfig) ([]string, error) {
	flags, err := Synthesize(cfg)
	if err != nil {
		return nil, err
	}
	args := append(flags, "-jar", cfg.JarName)
	if !cfg.Type.IsProxy() {
		args = append(args, "nogui")
	}
	return args, nil
}

// RequiredRuntime returns the minimum Java major version a game version needs.
func RequiredRuntime(gameVersion string) int {
	parts := strings.Split(strings.TrimSpace(gameVersion), ".")
	if len(parts) < 2 {
		return 17
	}
	major, err := strconv.Atoi(parts[1])
	if err != nil {
		return 17
	}
	minor := 0
	if len(parts) >= 3 {
		if minor, err = strconv.Atoi(parts[2]); err != nil {
			return 17
		}
	}
	switch {
	case major >= 21 || (major == 20 && minor >= 5):
		return 21
	case major >= 17:
		return 17
	case major >= 12:
		return 11
	default:
		return 8
	}
}

// Recommend suggests a flag profile for the configured memory and runtime.
// An unset runtime version is taken to be the one the game version needs.
func Recommend(cfg domain.ServerConfig) string {
	runtime := cfg.RuntimeVersion
	if runtime <= 0 {
		runtime = RequiredRuntime(cfg.GameVersion)
	}
	switch {
	case cfg.RAMMB <= 1024:
		return ProfileLowMemory
	case cfg.RAMMB >= 8192 && runtime >= 17:
		return ProfileHighPerformance
	default:
		return ProfileDefault
	}
}

// MaxHeapFlag extracts the -Xmx value in megabytes from flags, or -1.
func MaxHeapFlag(flags []string) int {
	for _, f := range flags {
		if v, ok := strings.CutPrefix(f, "-Xmx"); ok {
			n, err := strconv.Atoi(strings.TrimSuffix(v, "M"))
			if err == nil {
				return n
			}
		}
	}
	return -1
}

func unknownProfile(profile string) error {
	return &domain.ConfigError{
		Field:   "server.flag_profile",
		Message: fmt.Sprintf("unknown profile %q. Must be one of %v", profile, Profiles),
		Err:     domain.ErrUnknownProfile,
	}
}
