//go:build windows

package emit

import (
	"context"
	"errors"
)

// ErrSyslogUnavailable is returned on platforms without log/syslog support.
var ErrSyslogUnavailable = errors.New("emit: syslog is not available on Windows")

// SyslogSink is a stub on Windows, where log/syslog does not build.
type SyslogSink struct{}

// NewSyslogSink returns ErrSyslogUnavailable on Windows.
func NewSyslogSink(_ string, _ ...any) (*SyslogSink, error) {
	return nil, ErrSyslogUnavailable
}

// NewSyslogSinkFromConfig returns ErrSyslogUnavailable on Windows.
func NewSyslogSinkFromConfig(_, _, _, _ string) (*SyslogSink, error) {
	return nil, ErrSyslogUnavailable
}

// Emit always returns ErrSyslogUnavailable on Windows.
func (s *SyslogSink) Emit(_ context.Context, _ Event) error {
	return ErrSyslogUnavailable
}

// Close always returns ErrSyslogUnavailable on Windows.
func (s *SyslogSink) Close() error {
	return ErrSyslogUnavailable
}
