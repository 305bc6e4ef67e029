package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/thefortaiagency/aether-insight/internal/browser"
	"github.com/thefortaiagency/aether-insight/internal/logger"
)

// say prints one line. The terminal may be in a mode without output
// translation, so lines end with an explicit carriage return.
func say(format string, args ...any) {
	fmt.Printf(format+"\r\n", args...)
}

// listenForKeyboard reads single keypresses from stdin and performs actions.
// It returns immediately when stdin is not a terminal.
func listenForKeyboard(consoleURL string, appLog *logger.SlogLogger, shutdown func()) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}

	restore, err := enterKeyMode(fd)
	if err != nil {
		appLog.Debug("Keyboard shortcuts unavailable", "error", err)
		return
	}
	defer restore()

	quit := func() {
		say("%sShutting down server...%s", yellow, reset)
		restore()
		shutdown()
		os.Exit(0)
	}

	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			continue
		}

		switch strings.ToLower(string(buf[0])) {
		case "c":
			say("%sOpening mat console in browser...%s", cyan, reset)
			if err := browser.Open(consoleURL); err != nil {
				say("%sError opening browser: %v%s", red, err, reset)
			}
		case "h":
			if appLog.IsHTTPLoggingEnabled() {
				appLog.DisableHTTPLogging()
				say("%sHTTP logging disabled%s", yellow, reset)
			} else {
				appLog.EnableHTTPLogging()
				say("%sHTTP logging enabled%s", green, reset)
			}
		case "l":
			cycleLogLevel(appLog)
		case "q", "\x03": // Ctrl+C arrives as a byte in key mode
			quit()
		case "?":
			printKeyboardHelp()
		}
	}
}
