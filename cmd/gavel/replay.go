package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/gavel/internal/replay"
	"golang.org/x/term"
)

func newReplayCmd() *cobra.Command {
	var (
		speed    float64
		keepID   bool
		fullLine bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Play a session recording to the terminal",
		Long: `Re-emits the events of a recording (.jsonl) with their original spacing
divided by --speed. Events are re-addressed to a fresh replay-<uuid> session
id unless --keep-id is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], speed, keepID, fullLine)
		},
	}

	cmd.Flags().Float64VarP(&speed, "speed", "s", 1, "playback speed multiplier")
	cmd.Flags().BoolVar(&keepID, "keep-id", false, "keep the recorded session id")
	cmd.Flags().BoolVar(&fullLine, "full", false, "never truncate lines to the terminal width")
	return cmd
}

func runReplay(cmd *cobra.Command, path string, speed float64, keepID, fullLine bool) error {
	out := cmd.OutOrStdout()
	if speed <= 0 {
		return fmt.Errorf("--speed must be positive, got %g", speed)
	}

	frames, err := replay.LoadLog(path)
	if err != nil {
		return err
	}

	p := &replay.Player{Speed: speed}
	if !keepID {
		p.SessionID = replay.NewReplayID()
	}
	width := 0
	if !fullLine {
		width = terminalWidth(out)
	}

	start := time.Now()
	return p.Play(cmd.Context(), frames, func(e replay.Event) error {
		line := formatEvent(time.Since(start), e)
		if width > 0 {
			line = truncateLine(line, width)
		}
		_, err := fmt.Fprintln(out, line)
		return err
	})
}

// terminalWidth returns the column count when out is a terminal, else 0.
func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}

func formatEvent(elapsed time.Duration, e replay.Event) string {
	return fmt.Sprintf("[%6.1fs] #%-4d %-26s %s", elapsed.Seconds(), e.Seq, e.Type, compactJSON(e.Payload))
}

func compactJSON(raw []byte) string {
	return strings.Join(strings.Fields(string(raw)), " ")
}

func truncateLine(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
