package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/arlobridge/thermalctl/internal/supervisor"
	"github.com/arlobridge/thermalctl/mqttstats"
)

func newInspectCmd() *cobra.Command {
	var configPath string
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Interactive read-only console onto the controller's live state",
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnv()

			rt, err := buildRuntime(configPath, tick)
			if err != nil {
				return err
			}
			rt.stats = mqttstats.NewHelper("thermalctl-inspect") // buffered only, never connected

			ctx, cancel := setupSignals()

			for name := range rt.sensors {
				name := name
				supervisor.SafeGo(ctx, cancel, "sensor-"+name, func(ctx context.Context) {
					rt.runSensorLoop(ctx, name)
				}, supervisor.DefaultConfig())
			}

			runInspectConsole(ctx, cancel, rt)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "thermalctl.yaml", "path to sensor/cdev YAML config")
	cmd.Flags().DurationVar(&tick, "tick", time.Second, "control loop tick interval")
	return cmd
}

// readlineWriter routes log output through the active readline prompt so
// background log lines don't garble whatever the user is typing.
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (int, error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err := os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "thermalctl")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "inspect_history")
}

func handleInspectCommand(cmd string, rt *runtime) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "list":
		names := make([]string, 0, len(rt.sensors))
		for name := range rt.sensors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(rt.sensorStatusLine(name))
		}

	case "cdev":
		if len(parts) < 2 {
			fmt.Println("usage: cdev <name>")
			return
		}
		state, ok := rt.controller.GetCdevMaxRequest(parts[1])
		if !ok {
			fmt.Printf("cdev %q: unknown\n", parts[1])
			return
		}
		fmt.Printf("cdev %q: max request = %d\n", parts[1], state)

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list            - show every sensor's last temperature and severity")
		fmt.Println("  cdev <name>     - show a cooling device's current max vote")
		fmt.Println("  help            - show this help")

	default:
		fmt.Printf("unknown command: %s (try 'help')\n", parts[0])
	}
}

func inspectReadlineLoop(ctx context.Context, cancel context.CancelFunc, rl *readline.Instance, commands chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commands <- line
		}
	}
}

func runInspectConsole(ctx context.Context, cancel context.CancelFunc, rt *runtime) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "thermalctl> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("thermalctl: inspect: readline init failed: %v", err)
		return
	}
	defer rl.Close()

	writer := &readlineWriter{rl: rl}
	log.SetOutput(writer)

	log.Println("thermalctl inspect ready (type 'help' for commands)")

	commands := make(chan string, 10)
	go inspectReadlineLoop(ctx, cancel, rl, commands)

	for {
		select {
		case cmd := <-commands:
			handleInspectCommand(cmd, rt)
		case <-ctx.Done():
			return
		}
	}
}
