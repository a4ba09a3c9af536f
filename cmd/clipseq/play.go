package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/clipseq-go"
	"github.com/cbegin/clipseq-go/internal/capture"
	"github.com/cbegin/clipseq-go/internal/project"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#777"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f5a623"))
)

var playCmd = &cobra.Command{
	Use:   "play <project.yaml>",
	Short: "Play a project on the default audio device",
	Long: `Play a project on the default audio device until interrupted.

Clips marked active in the project start with the transport. When none are
marked, every clip with notes starts.

Example:
  clipseq play examples/demo.yaml --duration 30s --capture take.mid`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")
	playCmd.Flags().String("capture", "", "write every played note to this MIDI file")
	playCmd.Flags().Bool("metronome", false, "enable the metronome")
	playCmd.Flags().Float64("volume", -1, "master volume 0..1 (default from config)")
}

func runPlay(cmd *cobra.Command, args []string) error {
	proj, err := project.Load(args[0])
	if err != nil {
		return err
	}
	duration, _ := cmd.Flags().GetDuration("duration")
	capturePath, _ := cmd.Flags().GetString("capture")
	metronome, _ := cmd.Flags().GetBool("metronome")
	volume, _ := cmd.Flags().GetFloat64("volume")

	opts := []clipseq.PlayerOption{clipseq.WithConfig(cfg), clipseq.WithLogger(log)}
	var rec *capture.Recorder
	if capturePath != "" {
		rec = capture.NewRecorder()
		opts = append(opts, clipseq.WithCapture(rec))
	}
	pl, err := clipseq.NewPlayer(opts...)
	if err != nil {
		return err
	}
	defer pl.Close()

	if err := pl.LoadProject(proj); err != nil {
		return err
	}
	if metronome {
		pl.SetMetronome(true)
	}
	if volume >= 0 {
		pl.SetMasterVolume(volume)
	}
	if err := pl.Open(); err != nil {
		return err
	}
	events := pl.Watch()
	if err := pl.Play(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	status := time.NewTicker(100 * time.Millisecond)
	defer status.Stop()
	wraps := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if ev.Kind == clipseq.EventLoopWrapped {
				wraps++
			}
		case <-status.C:
			fmt.Fprint(os.Stderr, "\r"+statusLine(pl.Snapshot(), wraps))
		}
	}
	fmt.Fprintln(os.Stderr)
	pl.Stop()

	if rec != nil {
		if err := rec.WriteFile(capturePath); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"path": capturePath, "events": rec.Len()}).Info("capture written")
	}
	return nil
}

func statusLine(s clipseq.Snapshot, wraps int) string {
	pos := s.Position
	state := activeStyle.Render(fmt.Sprintf("%-7s", s.State))
	where := accentStyle.Render(fmt.Sprintf("%3d.%d.%d", pos.Bar+1, pos.BeatInBar+1, pos.Sixteenth+1))
	info := dimStyle.Render(fmt.Sprintf("%5.1f bpm  %d/%d  clips %d  notes %2d  voices %2d  loops %d",
		s.BPM, s.TimeSignature[0], s.TimeSignature[1], len(s.ActiveClips), s.ActiveNotes, s.Voices, wraps))
	return state + " " + where + "  " + info
}
