package wsutil

import (
	"errors"
	"io"
	"strings"
)

// IsExpectedCloseErr reports whether a read error is normal connection
// teardown: the subscriber went away or the hub closed the conn underneath
// its read loop. Anything else is a real protocol or transport failure.
func IsExpectedCloseErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "connection reset by peer") ||
		strings.Contains(s, "broken pipe")
}
