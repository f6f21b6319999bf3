package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlobridge/thermalctl/internal/supervisor"
	"github.com/arlobridge/thermalctl/mqttstats"
)

func newRunCmd() *cobra.Command {
	var configPath, mqttBroker string
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the thermal throttling controller against a live config",
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnv()

			rt, err := buildRuntime(configPath, tick)
			if err != nil {
				return err
			}

			stats := mqttstats.NewHelper("thermalctl")
			rt.stats = stats

			ctx, cancel := setupSignals()

			if mqttBroker != "" {
				username := os.Getenv("MQTT_USERNAME")
				password := os.Getenv("MQTT_PASSWORD")
				supervisor.SafeGo(ctx, cancel, "mqtt-stats", func(ctx context.Context) {
					stats.Run(ctx, mqttBroker, username, password, "thermalctl")
				}, supervisor.DefaultConfig())
			}

			rt.controller.SetTraceSink(logTraceSink{})

			for name := range rt.sensors {
				name := name
				supervisor.SafeGo(ctx, cancel, "sensor-"+name, func(ctx context.Context) {
					rt.runSensorLoop(ctx, name)
				}, supervisor.DefaultConfig())
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "thermalctl.yaml", "path to sensor/cdev YAML config")
	cmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker host (telemetry disabled if empty)")
	cmd.Flags().DurationVar(&tick, "tick", time.Second, "control loop tick interval")
	return cmd
}
