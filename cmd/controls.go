package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logreplay/logreplay/sim"
)

// defaultSkip is the jump of a bare "skip" command.
const defaultSkip = time.Minute

// parseControl turns one playback command into a sim.Control.
//
//	pause | p          toggle pause
//	faster | +         next step up the speed ladder
//	slower | -         next step down the speed ladder
//	skip [duration]    jump ahead (default 1m of wall time)
//	speed <factor>     set an explicit speed
func parseControl(line string) (sim.Control, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "pause", "p":
		return sim.TogglePause{}, nil
	case "faster", "+":
		return sim.SpeedUp{}, nil
	case "slower", "-":
		return sim.SlowDown{}, nil
	case "skip", "s":
		if len(args) == 0 {
			return sim.Skip{Duration: defaultSkip}, nil
		}
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("skip needs a positive duration, got %q", args[0])
		}
		return sim.Skip{Duration: d}, nil
	case "speed":
		if len(args) != 1 {
			return nil, fmt.Errorf("speed needs one factor")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("speed needs a non-negative factor, got %q", args[0])
		}
		return sim.SetSpeed{Speed: v}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

// forwardControls reads commands from r, one per line, and sends them to out
// until r ends or ctx is done. Bad commands are logged and skipped.
func forwardControls(ctx context.Context, r io.Reader, out chan<- sim.Control) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		c, err := parseControl(scanner.Text())
		if err != nil {
			logrus.Warnf("ignoring playback command: %v", err)
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}
