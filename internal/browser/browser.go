// Package browser opens the mat console in the operator's default browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// Commander starts external programs. Tests substitute a recorder.
type Commander interface {
	Start(name string, args ...string) error
}

// RealCommander executes actual commands
type RealCommander struct{}

// Start launches the command without waiting for it
func (RealCommander) Start(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}

var defaultCommander Commander = RealCommander{}

// launchers maps GOOS to the program that hands a URL to the desktop
var launchers = map[string][]string{
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"openbsd": {"xdg-open"},
	"netbsd":  {"xdg-open"},
	"darwin":  {"open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// ConsoleURL is the local console address for a server on port, optionally
// focused on one match.
func ConsoleURL(port int, matchID string) string {
	u := fmt.Sprintf("http://localhost:%d/console", port)
	if matchID != "" {
		u += "?match=" + url.QueryEscape(matchID)
	}
	return u
}

// Open opens target in the default browser
func Open(target string) error {
	return OpenWithCommander(target, defaultCommander, runtime.GOOS)
}

// OpenWithCommander opens target using commander as if running on goos
func OpenWithCommander(target string, commander Commander, goos string) error {
	launcher, ok := launchers[goos]
	if !ok {
		return fmt.Errorf("unsupported platform: %s", goos)
	}
	args := append(append([]string{}, launcher[1:]...), target)
	return commander.Start(launcher[0], args...)
}
