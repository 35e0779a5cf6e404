package utils

import (
	"path/filepath"
)

// TruncatePath shortens path to maxWidth, keeping the file name and
// eliding leading directories.
func TruncatePath(path string, maxWidth int) string {
	if len(path) <= maxWidth {
		return path
	}
	if maxWidth < 10 {
		return TruncateString(path, maxWidth)
	}

	dir, file := filepath.Split(path)
	if len(file)+4 > maxWidth {
		return "..." + file[len(file)-(maxWidth-3):]
	}
	keep := maxWidth - len(file) - 3
	return "..." + dir[len(dir)-keep:] + file
}

// TruncateString truncates s to maxLen, adding an ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	if maxLen < 3 {
		return "..."[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
