package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Duration reads the duration at key path. Besides Go syntax ("90s",
// "1h30m") it takes whole days ("30d"), which retention windows use. Blank
// and zero values yield def; negatives are rejected.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var (
		d   time.Duration
		err error
	)
	if n, ok := strings.CutSuffix(s, "d"); ok {
		var days int64
		days, err = strconv.ParseInt(n, 10, 32)
		d = time.Duration(days) * day
	} else {
		d, err = time.ParseDuration(s)
	}
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
