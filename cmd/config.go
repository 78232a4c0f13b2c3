package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View FXRecorder configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with inheritance indicators",
	Long:  `Display the resolved configuration and whether each value comes from the selected profile or is inherited from default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		src := func(path string) string {
			return getInheritanceIndicator(cfg.Inheritance.Source(path))
		}

		fmt.Fprintf(out, "=== RESOLVED CONFIGURATION (%s) ===\n", profileName())

		fmt.Fprintf(out, "\n[Audio]\n")
		fmt.Fprintf(out, "backend: %s %s\n", cfg.Audio.Backend, src("audio.backend"))
		fmt.Fprintf(out, "sample_rate: %d %s\n", cfg.Audio.SampleRate, src("audio.sample_rate"))
		fmt.Fprintf(out, "channels: %d %s\n", cfg.Audio.Channels, src("audio.channels"))
		fmt.Fprintf(out, "device: %q %s\n", cfg.Audio.Device, src("audio.device"))
		fmt.Fprintf(out, "buffer_frames: %d %s\n", cfg.Audio.BufferFrames, src("audio.buffer_frames"))

		fmt.Fprintf(out, "\n[Meter]\n")
		fmt.Fprintf(out, "interval: %v %s\n", cfg.Meter.Interval, src("meter.interval"))

		fmt.Fprintf(out, "\n[Effects]\n")
		fmt.Fprintf(out, "phaser_octaves: %g %s\n", cfg.Effects.PhaserOctaves, src("effects.phaser_octaves"))
		fmt.Fprintf(out, "phaser_base_frequency: %g %s\n", cfg.Effects.PhaserBaseFrequency, src("effects.phaser_base_frequency"))

		fmt.Fprintf(out, "\n[Recorder]\n")
		fmt.Fprintf(out, "strict_transitions: %v %s\n", cfg.Recorder.StrictTransitions, src("recorder.strict_transitions"))

		fmt.Fprintf(out, "\n[Server]\n")
		fmt.Fprintf(out, "address: %s %s\n", cfg.Server.Address, src("server.address"))

		fmt.Fprintf(out, "\n[Telemetry]\n")
		fmt.Fprintf(out, "service_name: %s %s\n", cfg.Telemetry.ServiceName, src("telemetry.service_name"))
		return nil
	},
}

func profileName() string {
	if cfg.Profile == "" {
		return "built-in defaults"
	}
	return cfg.Profile
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInfoCmd)
}
