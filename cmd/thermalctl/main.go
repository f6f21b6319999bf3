// Command thermalctl runs the thermal throttling controller against a YAML
// sensor/cdev configuration, either on its own (run) or together with a
// read-only interactive console onto its live state (inspect).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "thermalctl",
		Short: "Thermal throttling controller",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newInspectCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// setupSignals builds a context cancelled on SIGINT/SIGTERM.
func setupSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Println("thermalctl: shutting down...")
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

// loadEnv loads .env, warning rather than failing when the file is absent.
func loadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("thermalctl: warning: error loading .env file: %v", err)
	}
}
