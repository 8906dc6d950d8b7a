// Package snapname names and discovers the periodic statistics-snapshot
// files an Image's flusher writes to <root>/stats/ (see engine.Image's
// background flush loop and SPEC_FULL.md's "Statistics snapshot struct"
// supplementary feature). It is adapted from the naming/parsing scheme the
// teacher used for write-ahead segment files: a zero-padded sequence number
// plus a nanosecond timestamp keeps names both monotonic and unique, so
// plain lexicographic sort finds the latest snapshot without reading any
// file contents.
//
// Filename format: prefix_NNNNN_timestamp.json
package snapname

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Generate creates a properly formatted snapshot filename for sequence id.
func Generate(id uint64, prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "stats"
	}
	return fmt.Sprintf("%s_%05d_%d.json", prefix, id, now.UnixNano())
}

// ParseID extracts the sequence id from a snapshot filename produced by Generate.
func ParseID(fullPath, prefix string) (uint64, error) {
	_, filename := filepath.Split(fullPath)

	if !strings.HasPrefix(filename, prefix) {
		return 0, fmt.Errorf("filename %s does not start with expected prefix %s", filename, prefix)
	}

	withoutPrefix := strings.TrimPrefix(filename, prefix)
	withoutExtension := strings.Split(withoutPrefix, ".")[0]

	parts := strings.Split(withoutExtension, "_")
	if len(parts) < 3 {
		return 0, fmt.Errorf("filename %s has unexpected format, expected prefix_ID_timestamp.json", filename)
	}

	idStr := parts[1]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse snapshot ID %q as integer: %w", idStr, err)
	}
	return id, nil
}

// Latest searches dir for snapshot files matching prefix and returns the
// highest sequence id found, or 0 if none exist. It relies on zero-padded
// ids and monotonically increasing timestamps for correct lexicographic
// ordering, exactly as GenerateName's original segment-file counterpart did.
func Latest(dir, prefix string) (uint64, string, error) {
	pattern := filepath.Join(dir, prefix+"_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, "", fmt.Errorf("globbing snapshot directory %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return 0, "", nil
	}

	slices.Sort(matches)
	latest := matches[len(matches)-1]

	id, err := ParseID(latest, prefix)
	if err != nil {
		return 0, "", err
	}
	return id, latest, nil
}
