package preflight

import (
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the free space floor below which indexing is refused
// (100 MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace verifies the filesystem holding path has room for index
// growth.
func CheckDiskSpace(path string) Result {
	r := Result{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("cannot stat filesystem: %v", err)
		return r
	}

	available := stat.Bavail * uint64(stat.Bsize)
	r.Message = fmt.Sprintf("%s free (minimum 100 MB)", formatBytes(available))
	if available < MinDiskSpaceBytes {
		r.Status = StatusFail
		r.Hint = "free disk space before indexing"
		return r
	}
	r.Status = StatusPass
	return r
}

func formatBytes(bytes uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
		tb = 1024 * gb
	)
	switch {
	case bytes >= tb:
		return fmt.Sprintf("%.1f TB", float64(bytes)/tb)
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
