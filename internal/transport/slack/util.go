package slack

import (
	"errors"
	"strconv"
	"strings"
)

var errQueueFull = errors.New("slack transport: event queue full, event dropped")

// parseSlackTS splits a Slack timestamp ("1710000000.000100") into whole
// seconds and the microsecond remainder.
func parseSlackTS(ts string) (sec int64, micro int64, err error) {
	parts := strings.SplitN(ts, ".", 2)
	sec, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 2 {
		micro, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return sec, micro, nil
}
