package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/enricmcalvo/UUTrap/internal/container"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/preview"
)

func main() {
	var (
		pngPath  string
		index    int
		logLevel string
		logColor bool
	)

	flag.StringVar(&pngPath, "png", "", "Export a frame as PNG to this path")
	flag.IntVar(&index, "index", 0, "Frame index to export (negative counts from the end)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] FILE%s\n", os.Args[0], container.Ext)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)
	defer logger.Sync()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := inspect(os.Stdout, flag.Arg(0), pngPath, index); err != nil {
		logger.Error("Main", "%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// inspect prints a summary of the container at path and optionally exports
// one frame as PNG.
func inspect(out io.Writer, path, pngPath string, index int) error {
	f, err := container.Open(path)
	switch {
	case errors.Is(err, container.ErrNotFinalized):
		logger.Warn("Main", "%s was not finalized, showing %d recovered frames", path, f.Len())
	case err != nil:
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	fmt.Fprintf(out, "file:      %s\n", path)
	fmt.Fprintf(out, "version:   %d\n", f.Version)
	fmt.Fprintf(out, "finalized: %v\n", f.Finalized)
	fmt.Fprintf(out, "user:      %s\n", f.Metadata.User)
	fmt.Fprintf(out, "exposure:  %s\n", f.Metadata.Exposure)
	fmt.Fprintf(out, "run:       %s\n", f.Metadata.RunID)
	fmt.Fprintf(out, "created:   %s\n", f.Metadata.Created.Format("2006-01-02 15:04:05.000"))
	if f.Finalized {
		fmt.Fprintf(out, "dataset:   %s %v\n", f.Dataset.Name, f.Dataset.Shape())
	} else {
		fmt.Fprintf(out, "dataset:   %s (%d frames)\n", f.Metadata.Dataset, f.Len())
	}

	if pngPath == "" {
		return nil
	}
	if f.Len() == 0 {
		return errors.New("no frames to export")
	}
	if index < 0 {
		index += f.Len()
	}
	frame, err := f.Frame(index)
	if err != nil {
		return err
	}
	if err := preview.WritePNG(pngPath, preview.Frame(frame, frame.Width, frame.Height)); err != nil {
		return fmt.Errorf("failed to write %s: %w", pngPath, err)
	}
	fmt.Fprintf(out, "exported:  frame %d (seq %d, %dx%d) to %s\n", index, frame.Seq, frame.Width, frame.Height, pngPath)
	return nil
}
