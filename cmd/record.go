package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/fx"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/recorder"
	"github.com/audiolibrelab/fxrecorder/internal/service"

	"github.com/spf13/cobra"
)

var errQuit = errors.New("quit")

const recordHelp = `Commands:
  <Enter>    start / stop recording
  p          play the take
  s          pause playback
  r          toggle reverse
  f <hz>     set phaser frequency
  q          quit`

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a take interactively and play it back through effects",
	Long: `Open the microphone and record takes from the terminal. Press Enter to
start and again to stop; the take is then ready to play through the effects
chosen with flags or changed interactively.

` + recordHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		partial, err := effectsFromFlags(cmd)
		if err != nil {
			return err
		}

		driver := audio.NewDriver(cfg, slog.Default())
		svc := service.New(cfg, driver, service.WithMetrics(observe.DefaultMetrics()))
		defer svc.Close()

		if err := svc.Open(ctx); err != nil {
			return fmt.Errorf("failed to open microphone: %w", err)
		}
		if err := svc.ChangeEffect(ctx, partial); err != nil {
			return fmt.Errorf("invalid effects: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "🎙  Microphone ready")
		fmt.Fprintln(out, recordHelp)

		go showLevel(ctx, out, svc, cfg.Meter.Interval)

		lines := readLines(cmd.InOrStdin())
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				err := handleLine(ctx, out, svc, line)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					fmt.Fprintf(out, "⚠️  %v\n", err)
				}
			}
		}
	},
}

// handleLine runs one interactive command against svc.
func handleLine(ctx context.Context, out io.Writer, svc service.Service, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		status, err := svc.RecordToggle(ctx)
		if err != nil {
			return err
		}
		if status == recorder.StatusComplete {
			fmt.Fprintf(out, "\n⏹  Take complete (%.1fs), press p to play\n", svc.Status().Duration)
		} else {
			fmt.Fprintln(out, "⏺  Recording, press Enter to stop")
		}
		return nil
	}

	switch fields[0] {
	case "p", "play":
		if err := svc.Play(); err != nil {
			return err
		}
		fmt.Fprintln(out, "▶️  Playing")
	case "s", "pause":
		if err := svc.Pause(); err != nil {
			return err
		}
		fmt.Fprintln(out, "⏸  Paused")
	case "r", "reverse":
		reverse, err := svc.ReverseToggle(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🔁 Reverse: %v\n", reverse)
	case "f", "phaser":
		if len(fields) != 2 {
			return fmt.Errorf("usage: f <hz>")
		}
		hz, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("invalid frequency %q", fields[1])
		}
		if err := svc.PhaserFrequencyChange(ctx, hz); err != nil {
			return err
		}
		fmt.Fprintf(out, "🌀 Phaser: %g Hz\n", hz)
	case "q", "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

// effectsFromFlags builds the initial effect configuration from the flags the
// user set explicitly.
func effectsFromFlags(cmd *cobra.Command) (fx.Config, error) {
	var partial fx.Config
	flags := cmd.Flags()

	if flags.Changed("reverse") {
		v, err := flags.GetBool("reverse")
		if err != nil {
			return partial, err
		}
		partial.Reverse = &v
	}

	float := func(name string, apply func(v float64)) error {
		if !flags.Changed(name) {
			return nil
		}
		v, err := flags.GetFloat64(name)
		if err != nil {
			return err
		}
		apply(v)
		return nil
	}

	err := errors.Join(
		float("phaser", func(v float64) { partial.Phaser = &fx.PhaserParams{Frequency: v} }),
		float("delay", func(v float64) { partial.Delay = &fx.DelayParams{Time: v} }),
		float("reverb", func(v float64) { partial.Reverb = &fx.ReverbParams{RoomSize: v} }),
		float("bitcrush", func(v float64) { partial.BitCrusher = &fx.BitCrusherParams{BitDepth: v} }),
		float("filter", func(v float64) { partial.Filter = &fx.FilterParams{Frequency: v} }),
		float("pitch", func(v float64) { partial.PitchShift = &fx.PitchShiftParams{Semitones: v} }),
	)
	return partial, err
}

// readLines delivers stdin lines until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// showLevel redraws the input level while a take is recording.
func showLevel(ctx context.Context, out io.Writer, svc service.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := svc.Status()
			if st.Status != recorder.StatusRecording {
				continue
			}
			elapsed := time.Since(st.StartTime).Round(100 * time.Millisecond)
			fmt.Fprintf(out, "\r%s %v ", levelBar(st.Level, 20), elapsed)
		}
	}
}

func levelBar(level float64, width int) string {
	n := int(level * float64(width))
	n = max(0, min(n, width))
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}

// addEffectFlags registers the initial-effect flags on c.
func addEffectFlags(c *cobra.Command) {
	c.Flags().Bool("reverse", false, "play the take reversed")
	c.Flags().Float64("phaser", 0, "phaser modulation frequency in Hz")
	c.Flags().Float64("delay", 0, "echo delay time in seconds")
	c.Flags().Float64("reverb", 0, "reverb room size (0-1)")
	c.Flags().Float64("bitcrush", 0, "bit-crusher bit depth")
	c.Flags().Float64("filter", 0, "low-pass cutoff in Hz")
	c.Flags().Float64("pitch", 0, "pitch shift in semitones")
}

func init() {
	addEffectFlags(recordCmd)
}
