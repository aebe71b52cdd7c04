// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// zarrstream-copy streams raw frame bytes from a file or stdin into
// a chunked array store. The store geometry, compression, and
// backend come from a settings file (YAML, or JSON with comments).
//
// Usage:
//
//	zarrstream-copy --settings acquisition.yaml --input frames.raw
//	producer | zarrstream-copy --settings acquisition.yaml
//
// On success it prints the frame count and the BLAKE3 digest of the
// streamed bytes, for the acquisition log.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	zarrstream "github.com/bureau-foundation/zarrstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zarrstream-copy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var settingsPath string
	var inputPath string
	var customMetadataPath string
	var logLevel string

	flagSet := pflag.NewFlagSet("zarrstream-copy", pflag.ContinueOnError)
	flagSet.StringVar(&settingsPath, "settings", "", "stream settings file (YAML or JSON with comments)")
	flagSet.StringVar(&inputPath, "input", "-", "raw frame bytes to stream (\"-\" for stdin)")
	flagSet.StringVar(&customMetadataPath, "custom-metadata", "", "JSON file stored as acquire.json")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			flagSet.PrintDefaults()
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return nil
	}
	if settingsPath == "" {
		return fmt.Errorf("--settings is required")
	}

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	settings.Logger = logger

	input := io.Reader(os.Stdin)
	if inputPath != "-" {
		file, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer file.Close()
		input = file
	}

	stream, err := zarrstream.New(*settings)
	if err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}

	if customMetadataPath != "" {
		metadata, err := os.ReadFile(customMetadataPath)
		if err != nil {
			return fmt.Errorf("reading custom metadata: %w", err)
		}
		if err := stream.WriteCustomMetadata(string(metadata), false); err != nil {
			return fmt.Errorf("writing custom metadata: %w", err)
		}
	}

	total, copyErr := copyFrames(stream, input)

	if err := stream.Finalize(); err != nil {
		return fmt.Errorf("finalizing stream: %w", err)
	}
	if copyErr != nil {
		return copyErr
	}

	bytesPerFrame := frameSize(settings)
	fmt.Printf("streamed %d bytes (%d frames), blake3 %s\n",
		total, total/bytesPerFrame, hex.EncodeToString(stream.Digest()))
	if total%bytesPerFrame != 0 {
		fmt.Fprintf(os.Stderr, "warning: %d trailing bytes did not fill a frame\n",
			total%bytesPerFrame)
	}
	return nil
}

// copyFrames pumps the reader into the stream until EOF or a stream
// error.
func copyFrames(stream *zarrstream.Stream, input io.Reader) (int64, error) {
	buffer := make([]byte, 1<<20)
	var total int64
	for {
		n, readErr := input.Read(buffer)
		if n > 0 {
			consumed := stream.Append(buffer[:n])
			total += int64(consumed)
			if consumed < n {
				return total, fmt.Errorf("stream rejected input after %d bytes: %w", total, stream.Err())
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("reading input: %w", readErr)
		}
	}
}

func frameSize(settings *zarrstream.Settings) int64 {
	n := len(settings.Dimensions)
	width := settings.Dimensions[n-1].ArraySizePx
	height := settings.Dimensions[n-2].ArraySizePx
	return int64(width * height * uint64(settings.DataType.Size()))
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})), nil
}
