package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/enricmcalvo/UUTrap/internal/controller"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// errQuit is returned by the quit command.
var errQuit = errors.New("quit")

type command struct {
	usage string
	run   func(ctx context.Context, c *controller.Controller, args []string) (string, error)
}

var commands = map[string]command{
	"snap": {"snap", func(ctx context.Context, c *controller.Controller, _ []string) (string, error) {
		return "", c.Snap(ctx)
	}},
	"start": {"start", func(ctx context.Context, c *controller.Controller, _ []string) (string, error) {
		return "", c.StartAcquisition(ctx)
	}},
	"stop": {"stop", func(ctx context.Context, c *controller.Controller, _ []string) (string, error) {
		return "", c.StopAcquisition(ctx)
	}},
	"save": {"save", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return c.SaveImage()
	}},
	"record": {"record", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return c.StartSaving()
	}},
	"endrecord": {"endrecord", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return "", c.StopSaving()
	}},
	"accumulate": {"accumulate", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return fmt.Sprintf("accumulate=%v", c.ToggleAccumulate()), nil
	}},
	"clear": {"clear", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return "", c.ClearBuffer()
	}},
	"waterfall": {"waterfall", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return fmt.Sprintf("waterfall=%v", c.ToggleWaterfall()), nil
	}},
	"roi": {"roi LEFT RIGHT BOTTOM TOP", runROI},
	"clearroi": {"clearroi", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return "", c.ClearROI()
	}},
	"exposure": {"exposure DURATION", func(_ context.Context, c *controller.Controller, args []string) (string, error) {
		if len(args) != 1 {
			return "", errors.New("usage: exposure DURATION (e.g. 20ms)")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return "", err
		}
		return "", c.SetExposure(d)
	}},
	"status": {"status", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		return formatStatus(c.View()), nil
	}},
	"log": {"log", func(_ context.Context, c *controller.Controller, _ []string) (string, error) {
		var b strings.Builder
		for _, e := range c.Log() {
			b.WriteString(e.String())
			b.WriteByte('\n')
		}
		return strings.TrimSuffix(b.String(), "\n"), nil
	}},
	"quit": {"quit", func(context.Context, *controller.Controller, []string) (string, error) {
		return "", errQuit
	}},
}

func runROI(_ context.Context, c *controller.Controller, args []string) (string, error) {
	if len(args) != 4 {
		return "", errors.New("usage: roi LEFT RIGHT BOTTOM TOP")
	}
	var v [4]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return "", fmt.Errorf("bad bound %q: %w", a, err)
		}
		v[i] = n
	}
	return "", c.SetROI(types.Region{Left: v[0], Right: v[1], Bottom: v[2], Top: v[3]})
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("commands:")
	for _, name := range names {
		b.WriteString("\n  ")
		b.WriteString(commands[name].usage)
	}
	return b.String()
}

// execute runs one command line.
func execute(ctx context.Context, c *controller.Controller, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	if fields[0] == "help" {
		return usage(), nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(ctx, c, fields[1:])
}

func formatStatus(v controller.View) string {
	h := v.Health
	lines := []string{
		fmt.Sprintf("acquiring=%v accumulating=%v saving=%v waterfall=%v", v.Acquiring, v.Accumulating, v.Saving, v.WaterfallOpen),
		fmt.Sprintf("region x=[%d,%d] y=[%d,%d]", v.Region.Left, v.Region.Right, v.Region.Bottom, v.Region.Top),
		fmt.Sprintf("buffer: %d frames (%.0f%%, %s)", h.QueueLength, h.QueueOccupancyPercent, h.QueueLevel),
		fmt.Sprintf("cpu: %.1f%% (%s)", h.CPUPercent, h.CPULevel),
		fmt.Sprintf("buffer time: %.2f ms, refresh time: %.2f ms, acquired frames: %d",
			ms(h.BufferInterval), ms(h.RefreshInterval), h.TotalFrames),
	}
	if v.Recording.Filename != "" {
		lines = append(lines, fmt.Sprintf("last save: %s (%d frames)", v.Recording.Filename, v.Recording.FrameCount))
	}
	return strings.Join(lines, "\n")
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
