package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/herald/internal/daemon"
	"github.com/msageha/herald/internal/events"
	"github.com/msageha/herald/internal/model"
	"github.com/msageha/herald/internal/notify"
	"github.com/msageha/herald/internal/setup"
	"github.com/msageha/herald/internal/status"
	"github.com/msageha/herald/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "enqueue":
		runEnqueue(os.Args[2:])
	case "dismiss":
		runDismiss(os.Args[2:])
	case "dismiss-all":
		runDismissAll(os.Args[2:])
	case "suspend":
		runSuspend(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "scope":
		runScope(os.Args[2:])
	case "notify":
		runNotify(os.Args[2:])
	case "audit":
		runAudit(os.Args[2:])
	case "version":
		fmt.Printf("herald %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: herald setup <project_dir> [--name <project_name>]")
		os.Exit(1)
	}
	dir := args[0]
	var name string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--name":
			name = flagValue(rest, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized %s/ in %s\n", setup.DirName, absDir)
}

func runDaemon(_ []string) {
	heraldDir := mustFindHeraldDir()

	cfg, err := loadConfig(heraldDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(heraldDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runStop(_ []string) {
	sendCommand(mustFindHeraldDir(), uds.CmdShutdown, nil)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: herald status [--json]\n", a)
			os.Exit(1)
		}
	}

	if err := status.Run(mustFindHeraldDir(), jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runEnqueue(args []string) {
	const usage = "usage: herald enqueue <identifier> --scope <type:id> [--priority normal|high] [--title T] [--description D] [--button B] [--prop key=value]... [--duration-ms N]"
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	params := uds.EnqueueParams{Identifier: args[0], Properties: map[string]string{}}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--scope":
			params.Scope = flagValue(rest, &i)
		case "--priority":
			params.Priority = flagValue(rest, &i)
		case "--title":
			params.Properties[model.PropTitle] = flagValue(rest, &i)
		case "--description":
			params.Properties[model.PropDescription] = flagValue(rest, &i)
		case "--button":
			params.Properties[model.PropPrimaryButtonText] = flagValue(rest, &i)
		case "--prop":
			kv := flagValue(rest, &i)
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				fmt.Fprintf(os.Stderr, "invalid --prop value: %s (want key=value)\n", kv)
				os.Exit(1)
			}
			params.Properties[k] = v
		case "--duration-ms":
			raw := flagValue(rest, &i)
			n, err := strconv.Atoi(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --duration-ms value: %s\n", raw)
				os.Exit(1)
			}
			params.DurationMs = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", rest[i], usage)
			os.Exit(1)
		}
	}
	if params.Scope == "" {
		fmt.Fprintln(os.Stderr, "--scope is required")
		os.Exit(1)
	}
	if len(params.Properties) == 0 {
		params.Properties = nil
	}

	sendCommand(mustFindHeraldDir(), uds.CmdEnqueue, params)
}

func runDismiss(args []string) {
	const usage = "usage: herald dismiss <identifier> --scope <type:id> [--reason R]"
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	params := uds.DismissParams{Identifier: args[0]}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--scope":
			params.Scope = flagValue(rest, &i)
		case "--reason":
			params.Reason = flagValue(rest, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", rest[i], usage)
			os.Exit(1)
		}
	}
	if params.Scope == "" {
		fmt.Fprintln(os.Stderr, "--scope is required")
		os.Exit(1)
	}

	sendCommand(mustFindHeraldDir(), uds.CmdDismiss, params)
}

func runDismissAll(args []string) {
	var params uds.DismissAllParams
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--reason":
			params.Reason = flagValue(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: herald dismiss-all [--reason R]\n", args[i])
			os.Exit(1)
		}
	}
	sendCommand(mustFindHeraldDir(), uds.CmdDismissAll, params)
}

func runSuspend(_ []string) {
	sendCommand(mustFindHeraldDir(), uds.CmdSuspend, nil)
}

func runResume(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: herald resume <token>")
		os.Exit(1)
	}
	sendCommand(mustFindHeraldDir(), uds.CmdResume, uds.ResumeParams{Token: args[0]})
}

func runScope(args []string) {
	const usage = "usage: herald scope <activate|deactivate|destroy> <type:id>"
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	switch args[0] {
	case uds.ScopeActivate, uds.ScopeDeactivate, uds.ScopeDestroy:
	default:
		fmt.Fprintf(os.Stderr, "unknown scope action: %s\n%s\n", args[0], usage)
		os.Exit(1)
	}
	sendCommand(mustFindHeraldDir(), uds.CmdScope, uds.ScopeParams{Action: args[0], Scope: args[1]})
}

func runNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: herald notify <title> <message>")
		os.Exit(1)
	}
	if err := notify.Send(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
}

func runAudit(args []string) {
	const usage = "usage: herald audit verify [--file <path>]"
	if len(args) < 1 || args[0] != "verify" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	var path string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--file":
			path = flagValue(rest, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", rest[i], usage)
			os.Exit(1)
		}
	}
	if path == "" {
		path = filepath.Join(mustFindHeraldDir(), "logs", "audit"+events.LogFileExtension)
	}

	report, err := events.VerifyAuditLog(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit verify: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if !report.OK() {
		os.Exit(1)
	}
}

// flagValue returns the argument after args[*i] and advances *i.
func flagValue(args []string, i *int) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", args[*i])
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func sendCommand(heraldDir, command string, params any) {
	client := uds.NewClient(filepath.Join(heraldDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, msg)
		if code == uds.ErrCodeValidation {
			os.Exit(2)
		}
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
	fmt.Println(string(out))
}

func mustFindHeraldDir() string {
	dir := findHeraldDir()
	if dir == "" {
		fmt.Fprintf(os.Stderr, "error: %s/ directory not found. Run 'herald setup <dir>' first.\n", setup.DirName)
		os.Exit(1)
	}
	return dir
}

func findHeraldDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(heraldDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(heraldDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `herald %s: in-page message queue and dispatcher

Usage: herald <command> [options]

Lifecycle:
  setup <dir> [--name N]   Initialize .herald/ directory
  daemon                   Run daemon process
  stop                     Graceful shutdown
  status [--json]          Show queue status

Messages (CLI → Daemon):
  enqueue <identifier> --scope <type:id> [options]   Queue a message
  dismiss <identifier> --scope <type:id> [--reason R] Dismiss a message
  dismiss-all [--reason R]                           Dismiss every message
  suspend                                            Suspend the queue, prints a token
  resume <token>                                     Release a suspend token
  scope <activate|deactivate|destroy> <type:id>      Change a scope

Utilities:
  notify <title> <msg>     macOS notification
  audit verify [--file F]  Check audit log checksums
  version                  Show version
  help                     Show this help

Messages can also be queued by dropping inbox_message YAML files into .herald/inbox/.

`, version)
}
