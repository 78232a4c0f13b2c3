package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/fxrecorder/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture devices",
	Long: `List the capture devices of the configured audio backend. With --check,
verify that the configured (or given) device name resolves to exactly one
device.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(cfg)
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "🎵 Audio Sources (%s, %s backend)\n", runtime.GOOS, backend.GetType())
		fmt.Fprintf(out, "═══════════════════════════════════════\n\n")

		sources, err := backend.ListSources()
		if err != nil {
			return fmt.Errorf("failed to list %s sources: %w", backend.GetType(), err)
		}

		fmt.Fprintf(out, "📋 CAPTURE DEVICES (%d found):\n", len(sources))
		for i, source := range sources {
			marker := ""
			if source == cfg.Audio.Device {
				marker = " (configured)"
			}
			fmt.Fprintf(out, "  %d. %s%s\n", i+1, source, marker)
		}

		check, _ := cmd.Flags().GetBool("check")
		if !check {
			fmt.Fprintf(out, "\n💡 Set audio.device in the config to one of the names above, or leave it empty for the system default.\n")
			return nil
		}

		name := cfg.Audio.Device
		if len(args) == 1 {
			name = args[0]
		}
		if err := audio.ValidateSource(backend, name); err != nil {
			return err
		}
		if name == "" {
			name = "default"
		}
		fmt.Fprintf(out, "\n✅ Device %q is available\n", name)
		return nil
	},
}

func init() {
	sourcesCmd.Flags().Bool("check", false, "validate the configured device, or the device given as argument")
}
