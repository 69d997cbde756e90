package lease

import (
	"fmt"
	"strings"
)

// Strategy selects how the execution guard claims a cycle.
type Strategy string

const (
	// CheckThenWrite reads the newest lease and inserts unconditionally when
	// it is stale. Two nodes passing the read at the same time both run.
	CheckThenWrite Strategy = "check_then_write"
	// BucketClaim additionally inserts through a unique (task, profile,
	// bucket) index so only one node wins each interval slot.
	BucketClaim Strategy = "bucket"
)

// ParseStrategy maps config text to a Strategy; empty means CheckThenWrite.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return CheckThenWrite, nil
	case CheckThenWrite, BucketClaim:
		return s, nil
	default:
		return "", fmt.Errorf("unknown lease strategy %q", raw)
	}
}
