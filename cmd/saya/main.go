package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/saya/internal/config"
	"github.com/mattjoyce/saya/internal/doctor"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/lock"
	"github.com/mattjoyce/saya/internal/log"
	"github.com/mattjoyce/saya/internal/tui/watch"

	_ "github.com/mattjoyce/saya/modules/heartbeat"
	_ "github.com/mattjoyce/saya/modules/hello"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "module":
		return runModuleNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: saya version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("saya %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`saya - dynamic module host

Usage:
  saya <noun> <action> [flags]

Core Resources (Nouns):
  system    Host lifecycle and health
  config    Configuration and integrity
  module    Compiled-in and discovered modules

System Commands:
  system start      Start the host in the foreground
  system status     Show config and PID lock state
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate configuration and print its hash
  config lock       Record the configuration hash in .checksums

Module Commands:
  module list       Load every known module once and describe it

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'saya <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runModuleNoun(args []string) int {
	if len(args) < 1 {
		printModuleNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printModuleNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printModuleListHelp()
			return 0
		}
		return runModuleList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown module action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: saya system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: saya config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printModuleNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: saya module <action> [flags]")
	fmt.Fprintln(w, "Actions: list")
}

func printSystemStartHelp() {
	fmt.Println("Usage: saya system start [--config PATH]")
	fmt.Println("Start the host in the foreground and load the configured modules.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: saya system status [--config PATH] [--json]")
	fmt.Println("Show configuration validity and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Configuration is valid")
	fmt.Println("  1  Configuration failed to load")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: saya system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI.")
	fmt.Println("Shows host health, loaded modules, scheduled jobs and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Admin API URL (default: http://localhost:8080)")
	fmt.Println("  --token TOKEN    API bearer token (or SAYA_API_TOKEN env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  r                Refresh")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: saya config check [--config PATH] [--json]")
	fmt.Println("Validate configuration syntax, integrity, and module references.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: saya config lock [--config PATH]")
	fmt.Println("Authorize the current configuration by recording its BLAKE3 hash.")
}

func printModuleListHelp() {
	fmt.Println("Usage: saya module list [--config PATH]")
	fmt.Println("Load each known module, describe its cubes and export, and unload it again.")
}

// --- ACTION IMPLEMENTATIONS ---

func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("SAYA_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

type statusReport struct {
	Config    string `json:"config"`
	ConfigOK  bool   `json:"config_ok"`
	Error     string `json:"error,omitempty"`
	LockPath  string `json:"lock_path,omitempty"`
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	Modules   int    `json:"modules"`
	APIListen string `json:"api_listen,omitempty"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Config: resolveConfigPath(*configPath)}
	cfg, err := config.Load(report.Config)
	if err != nil {
		report.Error = err.Error()
	} else {
		report.ConfigOK = true
		report.LockPath = cfg.Lock.Path
		report.Modules = len(cfg.Modules)
		if cfg.API.Enabled {
			report.APIListen = cfg.API.Listen
		}
		if pid, err := lock.ReadPID(cfg.Lock.Path); err == nil && pid > 0 {
			report.PID = pid
			report.Running, _ = lock.Held(cfg.Lock.Path)
		}
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("config:  %s\n", report.Config)
		if !report.ConfigOK {
			fmt.Printf("status:  INVALID (%s)\n", report.Error)
		} else {
			fmt.Println("status:  OK")
			fmt.Printf("modules: %d configured\n", report.Modules)
			if report.Running {
				fmt.Printf("host:    running (pid %d)\n", report.PID)
			} else {
				fmt.Println("host:    not running")
			}
			if report.APIListen != "" {
				fmt.Printf("api:     %s\n", report.APIListen)
			}
		}
	}

	if !report.ConfigOK {
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := resolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		if *jsonOut {
			printJSON(map[string]any{"valid": false, "config": path, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		}
		return 1
	}

	hash, err := config.ComputeBlake3Hash(cfg.SourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hash failed: %v\n", err)
		return 1
	}

	log.Configure("warn", "text", os.Stderr)
	catalog, err := loader.New(loader.Default, cfg.ModuleRoots, log.Get())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}
	result := doctor.New(cfg, catalog).Validate()

	code := 0
	if !result.Valid {
		code = 1
	}

	if *jsonOut {
		printJSON(map[string]any{
			"valid":    result.Valid,
			"config":   cfg.SourcePath,
			"hash":     hash,
			"modules":  cfg.Modules,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		return code
	}
	fmt.Printf("Config:  %s\n", cfg.SourcePath)
	fmt.Printf("BLAKE3:  %s\n", hash)
	fmt.Printf("Modules: %s\n", strings.Join(cfg.Modules, ", "))
	fmt.Print(doctor.FormatHuman(result))
	if code != 0 {
		fmt.Println("Status: Configuration check FAILED.")
		return code
	}
	fmt.Println("Status: Configuration check PASSED.")
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	hash, err := config.WriteChecksums(cfg.SourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %s\n", cfg.SourcePath)
	fmt.Printf("BLAKE3: %s\n", hash)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Admin API URL")
	token := fs.String("token", os.Getenv("SAYA_API_TOKEN"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if err := watch.Run(*apiURL, *token); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
