package nessus

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/process"
)

var daemonNames = []string{"nessusd", "nessus-service"}

type DaemonInfo struct {
	PID     int
	Command string
}

// FindLocalDaemons lists running Nessus service processes on this host.
func FindLocalDaemons() ([]DaemonInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var daemons []DaemonInfo
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !isDaemonName(name) {
			continue
		}

		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			cmdline = name
		}

		daemons = append(daemons, DaemonInfo{
			PID:     int(p.Pid),
			Command: truncateString(cmdline, 200),
		})
	}

	return daemons, nil
}

func isDaemonName(name string) bool {
	lower := strings.ToLower(name)
	for _, d := range daemonNames {
		if lower == d {
			return true
		}
	}
	return false
}

// IsLocalURL reports whether raw points at the loopback interface.
func IsLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// truncateString shortens s to at most maxLen runes.
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
