package wamp

import (
	"fmt"
	"time"
)

// ISO8601 formats t as the WAMP meta-API expects timestamps: seconds
// precision with an explicit zone offset, "Z" for UTC.
func ISO8601(t time.Time) string {
	base := t.Format("2006-01-02T15:04:05")
	_, offset := t.Zone()
	switch {
	case offset == 0:
		return base + "Z"
	case offset < 0:
		return fmt.Sprintf("%s-%02d%02d", base, -offset/3600, (-offset%3600)/60)
	default:
		return fmt.Sprintf("%s+%02d%02d", base, offset/3600, (offset%3600)/60)
	}
}

// NowISO8601 returns ISO8601(time.Now()).
func NowISO8601() string { return ISO8601(time.Now()) }
