package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/app"
	"github.com/thefortaiagency/aether-insight/internal/auth"
	"github.com/thefortaiagency/aether-insight/internal/browser"
	"github.com/thefortaiagency/aether-insight/internal/config"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
	"github.com/thefortaiagency/aether-insight/web"
)

// ANSI escape codes
const (
	reset  = "\033[0m"
	yellow = "\033[33m"
	red    = "\033[31m"
	green  = "\033[32m"
	cyan   = "\033[36m"
	bold   = "\033[1m"
)

var (
	version = "dev"
)

// showLogo prints the banner
func showLogo() {
	width := 62
	border := strings.Repeat("═", width)

	logo := []string{
		"          _         _   _                                    ",
		"         / \\   ___ | |_| |__   ___ _ __                      ",
		"        / _ \\ / _ \\| __| '_ \\ / _ \\ '__|   mat-side scoring ",
		"       / ___ \\  __/| |_| | | |  __/ |                        ",
		"      /_/   \\_\\___| \\__|_| |_|\\___|_|                        ",
	}

	fmt.Printf("\n  %s╔%s╗%s\n", cyan, border, reset)
	for _, line := range logo {
		for len([]rune(line)) < width {
			line += " "
		}
		fmt.Printf("  %s║%s%s%s║%s\n", cyan, yellow, line, cyan, reset)
	}
	fmt.Printf("  %s╚%s╝%s\n\n", cyan, border, reset)
}

// cycleLogLevel cycles through debug -> info -> warn -> error
func cycleLogLevel(appLog *logger.SlogLogger) {
	var next string
	switch appLog.GetLevel().String() {
	case "DEBUG":
		next = "info"
	case "INFO":
		next = "warn"
	case "WARN":
		next = "error"
	case "ERROR":
		next = "debug"
	default:
		next = "info"
	}

	appLog.SetLevel(logger.ParseLevel(next))
	say("%sLog level: %s%s%s", green, yellow, next, reset)
}

// printKeyboardHelp displays all available keyboard shortcuts
func printKeyboardHelp() {
	say("")
	say("%s%s  Keyboard Shortcuts:%s", bold, green, reset)
	say("    %sc%s      - Open mat console in browser", cyan, reset)
	say("    %sh%s      - Toggle HTTP request logging", cyan, reset)
	say("    %sl%s      - Cycle log level (debug → info → warn → error)", cyan, reset)
	say("    %sq%s      - Quit server", cyan, reset)
	say("    %s?%s      - Show this help", cyan, reset)
	say("")
}

func main() {
	cfg := config.Load()

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	operatorPw := flag.String("operatorpw", "", "Operator password (auto-generated if not set)")
	logLevel := flag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rulesPath := flag.String("rules", cfg.RulesPath, "Scoring rules YAML file (built-in folkstyle rules if not set)")
	noKeyboard := flag.Bool("nokeyboard", false, "Disable keyboard shortcuts")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Aether - offline-first wrestling match scoring

Usage:
  aether [options]

Options:
  -port int         HTTP server port (default 8090)
  -db string        SQLite database path (default "aether.db")
  -operatorpw str   Operator password (auto-generated if not set)
  -loglevel str     Log level: debug, info, warn, error (default "info")
  -rules string     Scoring rules YAML file
  -nokeyboard       Disable keyboard shortcuts
  -version          Show version and exit
  -help             Show this help message

Environment (also read from .env):
  AETHER_REMOTE_URL, AETHER_REMOTE_TOKEN, AETHER_REALTIME_URL
  AETHER_DATA_DIR, SYNC_INTERVAL, UPLOAD_SWEEP_INTERVAL
  LOG_FORMAT, LOG_FILE, S3_ENDPOINT, S3_REGION

Keyboard Shortcuts (when enabled):
  c              Open mat console in browser
  h              Toggle HTTP request logging
  l              Cycle log level (debug → info → warn → error)
  q              Quit server
  ?              Show keyboard help

Examples:
  aether                                  # Run on port 8090 with aether.db
  aether -port 8080 -db /data/mat1.db     # Second mat on the same laptop
  aether -rules freestyle.yaml            # Custom scoring rules

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("aether %s\n", version)
		os.Exit(0)
	}

	cfg.Port = *port
	cfg.DBPath = *dbPath
	cfg.LogLevel = *logLevel
	cfg.RulesPath = *rulesPath

	showLogo()

	appLog := logger.NewWithOptions(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	defer appLog.Close()

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatal("Failed to load scoring rules: ", err)
	}

	password := *operatorPw
	if password == "" {
		password = auth.GeneratePassword()
	}
	operatorAuth := auth.New(password)

	// Remote URL and token may be replaced later through the settings API
	client := remote.NewHTTPClient(cfg.RemoteURL, appLog, remote.WithToken(cfg.RemoteToken))

	a, err := app.New(appLog, cfg, rules, client, web.GetTemplatesFS(), web.GetStaticFS(), operatorAuth)
	if err != nil {
		log.Fatal("Failed to initialize application: ", err)
	}
	defer a.Close()

	addr := fmt.Sprintf(":%d", cfg.Port)
	appLog.Info("Operator password", "password", password)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.Run(addr)
	}()

	// Wait a moment for server to start
	time.Sleep(100 * time.Millisecond)

	consoleURL := browser.ConsoleURL(cfg.Port, "")

	if !*noKeyboard {
		printKeyboardHelp()
		go listenForKeyboard(consoleURL, appLog, a.Close)
	} else {
		fmt.Printf("\n%sKeyboard shortcuts disabled (use -nokeyboard=false to enable)%s\n\n", yellow, reset)
	}

	if err := <-serverErr; err != nil {
		log.Fatal(err)
	}
}
