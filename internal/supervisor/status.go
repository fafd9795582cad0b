package supervisor

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"blockyard/internal/domain"
)

// sampleProcess measures CPU over interval and the resident set size. With
// a zero interval CPU is averaged over the process lifetime.
func sampleProcess(ctx context.Context, pid int, interval time.Duration) (domain.Resources, error) {
	var res domain.Resources
	p, err := gopsprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return res, err
	}
	if interval > 0 {
		res.CPUPercent, err = p.PercentWithContext(ctx, interval)
	} else {
		res.CPUPercent, err = p.CPUPercentWithContext(ctx)
	}
	if err != nil {
		return res, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return res, err
	}
	res.RSSBytes = mem.RSS
	return res, nil
}

// dirSize sums regular file sizes below root, skipping unreadable entries.
func dirSize(root string) uint64 {
	var total uint64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
