package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/storagedv/toolproctor/internal/config"
	"github.com/storagedv/toolproctor/internal/controller"
	"github.com/storagedv/toolproctor/internal/model"
	"github.com/storagedv/toolproctor/internal/suite"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "suite":
		runSuite(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "install":
		runInstall(os.Args[2:], false)
	case "uninstall":
		runInstall(os.Args[2:], true)
	case "tools":
		runTools(os.Args[2:])
	case "version":
		fmt.Printf("toolproctor %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

type runFlags struct {
	tool           string
	configFile     string
	outDir         string
	logLevel       string
	uninstallAfter bool
	sets           config.Config
}

func parseRunFlags(cmd string, args []string, wantTool bool) runFlags {
	f := runFlags{outDir: "./testlog", logLevel: "info", sets: config.Config{}}

	rest := args
	if wantTool {
		if len(args) < 1 || len(args[0]) == 0 || args[0][0] == '-' {
			fmt.Fprintf(os.Stderr, "usage: toolproctor %s <tool> [--config <file>] [--out <dir>] [--set key=value]... [--log-level <level>]\n", cmd)
			os.Exit(1)
		}
		f.tool = args[0]
		rest = args[1:]
	}

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--config":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			i++
			f.configFile = rest[i]
		case "--out":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--out requires a value")
				os.Exit(1)
			}
			i++
			f.outDir = rest[i]
		case "--log-level":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--log-level requires a value")
				os.Exit(1)
			}
			i++
			f.logLevel = rest[i]
		case "--uninstall-after":
			f.uninstallAfter = true
		case "--set":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--set requires key=value")
				os.Exit(1)
			}
			i++
			key, value, ok := splitKeyValue(rest[i])
			if !ok {
				fmt.Fprintf(os.Stderr, "invalid --set value: %s (want key=value)\n", rest[i])
				os.Exit(1)
			}
			f.sets[key] = value
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}
	return f
}

// splitKeyValue parses key=value, coercing the value to bool, number, or
// string so it lines up with the tool's declared parameter types.
func splitKeyValue(s string) (string, any, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			key, raw := s[:i], s[i+1:]
			if key == "" {
				return "", nil, false
			}
			switch raw {
			case "true":
				return key, true, true
			case "false":
				return key, false, true
			}
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				return key, n, true
			}
			return key, raw, true
		}
	}
	return "", nil, false
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func runRun(args []string) {
	f := parseRunFlags("run", args, true)

	reg, err := config.BuiltinRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tool registry: %v\n", err)
		os.Exit(1)
	}

	overrides, err := collectOverrides(reg, f.tool, f.configFile, f.sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}

	ctrl, err := controller.NewFromConfig(reg, f.tool, f.outDir, overrides,
		newLogger(), controller.ParseLogLevel(f.logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
	if err := ctrl.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}

	stopOnSignal(ctrl.Stop)
	<-ctrl.Done()

	if f.uninstallAfter {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		ctrl.Uninstall(ctx)
		cancel()
	}

	result := ctrl.Result()
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	switch ctrl.State() {
	case model.StateCompleted:
		os.Exit(0)
	case model.StateStopped:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}

func runSuite(args []string) {
	f := parseRunFlags("suite", args, false)
	if f.configFile == "" {
		fmt.Fprintln(os.Stderr, "usage: toolproctor suite --config <file> [--out <dir>] [--log-level <level>]")
		os.Exit(1)
	}

	reg, err := config.BuiltinRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tool registry: %v\n", err)
		os.Exit(1)
	}

	tools, err := config.ValidateFile(f.configFile, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "suite: %v\n", err)
		os.Exit(1)
	}

	entries := make([]suite.Entry, 0, len(tools))
	for _, tool := range tools {
		td, _ := reg.Tool(tool)
		section, err := config.LoadToolSection(f.configFile, tool, td.Schema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "suite: %v\n", err)
			os.Exit(1)
		}
		merged, err := td.Schema.Merge(section, f.sets)
		if err != nil {
			fmt.Fprintf(os.Stderr, "suite: %v\n", err)
			os.Exit(1)
		}
		entries = append(entries, suite.Entry{Tool: tool, Overrides: merged})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopOnSignal(cancel)

	s := &suite.Suite{
		Registry: reg,
		BaseDir:  f.outDir,
		Logger:   newLogger(),
		LogLevel: controller.ParseLogLevel(f.logLevel),
	}
	results, err := s.Run(ctx, entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "suite interrupted: %v\n", err)
	}

	for tool, state := range suite.Summary(results) {
		fmt.Printf("%s: %s\n", tool, state)
	}
	if !suite.Passed(results) {
		os.Exit(1)
	}
}

func runValidate(args []string) {
	var configFile, tool string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			i++
			configFile = args[i]
		case "--tool":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--tool requires a value")
				os.Exit(1)
			}
			i++
			tool = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: toolproctor validate --config <file> [--tool <name>]\n", args[i])
			os.Exit(1)
		}
	}
	if configFile == "" {
		fmt.Fprintln(os.Stderr, "usage: toolproctor validate --config <file> [--tool <name>]")
		os.Exit(1)
	}

	reg, err := config.BuiltinRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tool registry: %v\n", err)
		os.Exit(1)
	}

	if tool != "" {
		td, ok := reg.Tool(tool)
		if !ok {
			fmt.Fprintf(os.Stderr, "validate: unknown tool %q\n", tool)
			os.Exit(1)
		}
		if _, err := config.LoadToolSection(configFile, tool, td.Schema); err != nil {
			fmt.Fprintf(os.Stderr, "validate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: ok\n", tool)
		return
	}

	tools, err := config.ValidateFile(configFile, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(1)
	}
	for _, tool := range tools {
		fmt.Printf("%s: ok\n", tool)
	}
}

func runInstall(args []string, uninstall bool) {
	cmd := "install"
	if uninstall {
		cmd = "uninstall"
	}
	f := parseRunFlags(cmd, args, true)

	reg, err := config.BuiltinRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tool registry: %v\n", err)
		os.Exit(1)
	}
	overrides, err := collectOverrides(reg, f.tool, f.configFile, f.sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}

	ctrl, err := controller.NewFromConfig(reg, f.tool, f.outDir, overrides,
		newLogger(), controller.ParseLogLevel(f.logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if uninstall {
		ctrl.Uninstall(ctx)
		return
	}
	if err := ctrl.Install(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "install: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s installed\n", f.tool)
}

func runTools(_ []string) {
	reg, err := config.BuiltinRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tool registry: %v\n", err)
		os.Exit(1)
	}
	for _, name := range reg.Names() {
		td, _ := reg.Tool(name)
		fmt.Printf("%-12s strategy=%s\n", name, td.Strategy)
	}
}

// collectOverrides layers the configuration file section (when given)
// under the --set values.
func collectOverrides(reg *config.Registry, tool, configFile string, sets config.Config) (config.Config, error) {
	td, ok := reg.Tool(tool)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
	overrides := config.Config{}
	if configFile != "" {
		section, err := config.LoadToolSection(configFile, tool, td.Schema)
		if err != nil {
			return nil, err
		}
		overrides = section
	}
	return td.Schema.Merge(overrides, sets)
}

func stopOnSignal(stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		stop()
		// A second signal aborts immediately.
		<-ch
		os.Exit(130)
	}()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `toolproctor %s — lifecycle proctor for hardware validation tools

Usage: toolproctor <command> [options]

Execution:
  run <tool> [options]      Run one tool to completion
  suite --config <file>     Run every tool in the configuration file
  install <tool> [options]  Install a tool without running it
  uninstall <tool> [options] Remove an installed tool

Inspection:
  validate --config <file> [--tool <name>]
                            Check a configuration file against tool schemas
  tools                     List registered tools and their strategies
  version                   Show version
  help                      Show this help

Common options:
  --config <file>       JSON configuration file (one section per tool)
  --out <dir>           Artifacts directory (default ./testlog)
  --set key=value       Override one parameter (repeatable)
  --log-level <level>   debug, info, warn, error (default info)
  --uninstall-after     Remove the tool after the run finishes (run only)

Exit codes for run: 0 completed, 1 failed, 2 stopped.
`, version)
}
