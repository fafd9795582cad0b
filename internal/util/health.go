//nolint:revive // util is a common package name for shared utilities
package util

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"

	"blockyard/internal/domain"
)

// MinFreeDiskBytes is the free space below which the disk check fails.
const MinFreeDiskBytes = 500 * 1024 * 1024

var javaVersionRe = regexp.MustCompile(`version "(?:1\.)?(\d+)`)

// CheckBinary verifies if a binary is available in PATH
func CheckBinary(ctx context.Context, binary, name string) domain.HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, binary, "-version").Run(); err == nil {
		return domain.HealthCheck{Name: name, Status: domain.StatusOK, Message: "Available"}
	}
	return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: binary + " not found"}
}

// CheckJava runs the runtime binary and compares its major version with the
// required one.
func CheckJava(ctx context.Context, binary string, required int) domain.HealthCheck {
	const name = "Java runtime"
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "-version").CombinedOutput()
	if err != nil {
		return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: binary + " not found"}
	}
	major := ParseJavaMajor(string(out))
	switch {
	case major == 0:
		return domain.HealthCheck{Name: name, Status: domain.StatusWarn, Message: "Version not recognized"}
	case required > 0 && major < required:
		return domain.HealthCheck{Name: name, Status: domain.StatusError,
			Message: fmt.Sprintf("Java %d found, %d required", major, required)}
	default:
		return domain.HealthCheck{Name: name, Status: domain.StatusOK, Message: fmt.Sprintf("Java %d", major)}
	}
}

// ParseJavaMajor extracts the major version from `java -version` output.
// Legacy "1.8.0" style versions report 8.
func ParseJavaMajor(output string) int {
	m := javaVersionRe.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

// CheckDiskSpace reports free space on the filesystem holding path.
func CheckDiskSpace(ctx context.Context, path string) domain.HealthCheck {
	const name = "Disk space"
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return domain.HealthCheck{Name: name, Status: domain.StatusWarn, Message: "Unable to read disk usage"}
	}
	msg := humanize.IBytes(usage.Free) + " free"
	if usage.Free < MinFreeDiskBytes {
		return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: msg}
	}
	return domain.HealthCheck{Name: name, Status: domain.StatusOK, Message: msg}
}
