// export_test.go exposes internal hooks for use by external _test packages.
package service

import "time"

// SetAfter replaces the timer used between restart warnings.
func (n *Notification) SetAfter(after func(time.Duration) <-chan time.Time) {
	n.after = after
}
