package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	B  = 1
	KB = 1024 * B
	MB = 1024 * KB
	GB = 1024 * MB
	TB = 1024 * GB
)

// ParseSize converts a human-readable size such as "64KB", "1.5 GB" or
// "4096" to bytes. An empty string is zero.
func ParseSize(size string) (int64, error) {
	s := strings.TrimSpace(size)
	if s == "" {
		return 0, nil
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	number, unit := s, ""
	if i >= 0 {
		number, unit = s[:i], strings.TrimSpace(s[i:])
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size format: %s", size)
	}

	var mult float64
	switch strings.ToUpper(unit) {
	case "", "B":
		mult = B
	case "KB", "K", "KIB":
		mult = KB
	case "MB", "M", "MIB":
		mult = MB
	case "GB", "G", "GIB":
		mult = GB
	case "TB", "T", "TIB":
		mult = TB
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
	return int64(value * mult), nil
}
