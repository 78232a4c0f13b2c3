package cmd

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/fxrecorder/internal/fx"

	"github.com/spf13/cobra"
)

var effectsCmd = &cobra.Command{
	Use:   "effects",
	Short: "List effect stages in signal order",
	Long: `List the effect stages a take is played through, in their fixed signal
order, with the parameters each one accepts. Reverse is applied to the take
itself, ahead of every stage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if example, _ := cmd.Flags().GetBool("example"); example {
			data, err := yaml.Marshal(exampleEffects())
			if err != nil {
				return fmt.Errorf("error marshaling effects: %w", err)
			}
			fmt.Fprint(out, string(data))
			return nil
		}

		fmt.Fprintf(out, "0. reverse    (on/off)\n")
		for i, s := range fx.Stages {
			fmt.Fprintf(out, "%d. %-10s %s\n", i+1, s, strings.Join(s.Parameters(), ", "))
		}
		fmt.Fprintf(out, "\nEvery stage also accepts bypass: true to mute it without removing it.\n")
		return nil
	},
}

func exampleEffects() fx.Config {
	reverse := true
	return fx.Config{
		Reverse:    &reverse,
		Phaser:     &fx.PhaserParams{Frequency: 800, Octaves: 5, BaseFrequency: 1000},
		Delay:      &fx.DelayParams{Time: 0.25, Feedback: 0.4, Mix: 0.3},
		Reverb:     &fx.ReverbParams{RoomSize: 0.6, Damp: 0.4, Wet: 0.3, Dry: 0.8},
		BitCrusher: &fx.BitCrusherParams{BitDepth: 8, Downsample: 2, Mix: 1},
		Filter:     &fx.FilterParams{Frequency: 4000, Q: 0.707},
		PitchShift: &fx.PitchShiftParams{Semitones: -5},
	}
}

func init() {
	effectsCmd.Flags().Bool("example", false, "print an example effect configuration as YAML")
}
