//go:build !windows

package emit

import (
	"context"
	"log/syslog"
	"net"
	"strings"
	"testing"
	"time"
)

// startUDPSyslog starts a UDP listener that forwards each received packet
// as a string on the returned channel.
func startUDPSyslog(t *testing.T) (string, <-chan string) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start UDP listener: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	lines := make(chan string, 16)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			lines <- string(buf[:n])
		}
	}()

	return conn.LocalAddr().String(), lines
}

func waitLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for syslog packet")
		return ""
	}
}

func TestParseSyslogAddress(t *testing.T) {
	tests := []struct {
		name        string
		addr        string
		wantNetwork string
		wantAddr    string
		wantErr     bool
	}{
		{name: "udp", addr: "udp://127.0.0.1:514", wantNetwork: "udp", wantAddr: "127.0.0.1:514"},
		{name: "tcp", addr: "tcp://logs.example.com:6514", wantNetwork: "tcp", wantAddr: "logs.example.com:6514"},
		{name: "uppercase scheme", addr: "UDP://127.0.0.1:514", wantNetwork: "udp", wantAddr: "127.0.0.1:514"},
		{name: "missing scheme", addr: "localhost:514", wantErr: true},
		{name: "http scheme", addr: "http://127.0.0.1:514", wantErr: true},
		{name: "missing port", addr: "udp://127.0.0.1", wantErr: true},
		{name: "empty", addr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, addr, err := parseSyslogAddress(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseSyslogAddress(%q) succeeded, want error", tt.addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSyslogAddress(%q) returned error: %v", tt.addr, err)
			}
			if network != tt.wantNetwork || addr != tt.wantAddr {
				t.Errorf("parseSyslogAddress(%q) = (%q, %q), want (%q, %q)",
					tt.addr, network, addr, tt.wantNetwork, tt.wantAddr)
			}
		})
	}
}

func TestParseFacility(t *testing.T) {
	tests := []struct {
		name string
		want syslog.Priority
	}{
		{name: "daemon", want: syslog.LOG_DAEMON},
		{name: "auth", want: syslog.LOG_AUTH},
		{name: "local0", want: syslog.LOG_LOCAL0},
		{name: "local7", want: syslog.LOG_LOCAL7},
		{name: "LOCAL3", want: syslog.LOG_LOCAL3},
		{name: "bogus", want: syslog.LOG_LOCAL0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseFacility(tt.name); got != tt.want {
				t.Errorf("parseFacility(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSyslogSink_Emit(t *testing.T) {
	addr, lines := startUDPSyslog(t)

	sink, err := NewSyslogSink("udp://" + addr)
	if err != nil {
		t.Fatalf("NewSyslogSink returned error: %v", err)
	}
	defer func() { _ = sink.Close() }()

	err = sink.Emit(context.Background(), Event{
		Severity:   SeverityWarn,
		Type:       "scan_failed",
		Timestamp:  time.Now(),
		InstanceID: "scan-host",
		Fields:     map[string]any{"repo": "acme/widget"},
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	line := waitLine(t, lines)

	if !strings.Contains(line, `"type":"scan_failed"`) {
		t.Errorf("line missing event type: %s", line)
	}
	if !strings.Contains(line, `"repovet_instance":"scan-host"`) {
		t.Errorf("line missing instance: %s", line)
	}
	if !strings.Contains(line, `"repo":"acme/widget"`) {
		t.Errorf("line missing fields: %s", line)
	}
	if !strings.Contains(line, "repovet[") {
		t.Errorf("line missing default tag: %s", line)
	}
}

func TestSyslogSink_SeverityPriorities(t *testing.T) {
	addr, lines := startUDPSyslog(t)

	sink, err := NewSyslogSink("udp://" + addr)
	if err != nil {
		t.Fatalf("NewSyslogSink returned error: %v", err)
	}
	defer func() { _ = sink.Close() }()

	// With the default LOG_LOCAL0 facility (128), priorities are
	// 128+severity: crit 130, warning 132, info 134.
	tests := []struct {
		sev    Severity
		prefix string
	}{
		{sev: SeverityCritical, prefix: "<130>"},
		{sev: SeverityWarn, prefix: "<132>"},
		{sev: SeverityInfo, prefix: "<134>"},
	}

	for _, tt := range tests {
		t.Run(tt.sev.String(), func(t *testing.T) {
			err := sink.Emit(context.Background(), Event{
				Severity:   tt.sev,
				Type:       "scan_completed",
				Timestamp:  time.Now(),
				InstanceID: "test",
			})
			if err != nil {
				t.Fatalf("Emit returned error: %v", err)
			}

			line := waitLine(t, lines)
			if !strings.HasPrefix(line, tt.prefix) {
				t.Errorf("line priority = %s..., want prefix %s", line[:min(8, len(line))], tt.prefix)
			}
		})
	}
}

func TestSyslogSink_BelowMinSeverity(t *testing.T) {
	addr, lines := startUDPSyslog(t)

	sink, err := NewSyslogSink("udp://"+addr, WithSyslogMinSeverity(SeverityWarn))
	if err != nil {
		t.Fatalf("NewSyslogSink returned error: %v", err)
	}
	defer func() { _ = sink.Close() }()

	err = sink.Emit(context.Background(), Event{
		Severity:   SeverityInfo,
		Type:       "scan_completed",
		Timestamp:  time.Now(),
		InstanceID: "test",
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	select {
	case line := <-lines:
		t.Errorf("unexpected packet for dropped event: %s", line)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSyslogSink_CustomTagAndFacility(t *testing.T) {
	addr, lines := startUDPSyslog(t)

	sink, err := NewSyslogSink("udp://"+addr,
		WithSyslogTag("vetd"),
		WithSyslogFacility(syslog.LOG_LOCAL3),
	)
	if err != nil {
		t.Fatalf("NewSyslogSink returned error: %v", err)
	}
	defer func() { _ = sink.Close() }()

	err = sink.Emit(context.Background(), Event{
		Severity:   SeverityWarn,
		Type:       "scan_failed",
		Timestamp:  time.Now(),
		InstanceID: "test",
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	line := waitLine(t, lines)

	// LOG_LOCAL3 (152) + warning (4).
	if !strings.HasPrefix(line, "<156>") {
		t.Errorf("line priority = %s..., want prefix <156>", line[:min(8, len(line))])
	}
	if !strings.Contains(line, "vetd[") {
		t.Errorf("line missing custom tag: %s", line)
	}
}

func TestNewSyslogSink_DialFailure(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	if _, err := NewSyslogSink("tcp://" + addr); err == nil {
		t.Fatal("expected dial error for closed port")
	}
}

func TestNewSyslogSink_InvalidAddress(t *testing.T) {
	if _, err := NewSyslogSink("127.0.0.1:514"); err == nil {
		t.Fatal("expected error for address without scheme")
	}
}

func TestNewSyslogSinkFromConfig(t *testing.T) {
	addr, lines := startUDPSyslog(t)

	sink, err := NewSyslogSinkFromConfig("udp://"+addr, "local3", "vetd", "warn")
	if err != nil {
		t.Fatalf("NewSyslogSinkFromConfig returned error: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if sink.minSev != SeverityWarn {
		t.Errorf("minSev = %v, want %v", sink.minSev, SeverityWarn)
	}

	err = sink.Emit(context.Background(), Event{
		Severity:   SeverityCritical,
		Type:       "scan_completed",
		Timestamp:  time.Now(),
		InstanceID: "test",
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}

	line := waitLine(t, lines)

	// LOG_LOCAL3 (152) + crit (2).
	if !strings.HasPrefix(line, "<154>") {
		t.Errorf("line priority = %s..., want prefix <154>", line[:min(8, len(line))])
	}
	if !strings.Contains(line, "vetd[") {
		t.Errorf("line missing tag from config: %s", line)
	}
}

func TestNewSyslogSinkFromConfig_BadAddress(t *testing.T) {
	if _, err := NewSyslogSinkFromConfig("https://logs.example.com:514", "daemon", "", "info"); err == nil {
		t.Fatal("expected error for https address")
	}
}

func TestSyslogSink_CloseNil(t *testing.T) {
	var sink *SyslogSink
	if err := sink.Close(); err != nil {
		t.Errorf("Close on nil sink returned error: %v", err)
	}
}
