package detector

import (
	"os"
	"time"
)

// LogMTime returns the modification time of path. Any stat failure
// (missing file, permissions, empty path) is reported as ok=false.
func LogMTime(path string) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}
