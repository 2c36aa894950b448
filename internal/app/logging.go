// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"io"
	"log"
	"os"

	"github.com/natefinch/lumberjack"

	"github.com/relabs-tech/heli_allocator/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// logOutput returns the writer the standard logger should use: stderr, plus
// a size-rotated file when cfg.LogFile is set.
func logOutput(cfg *config.Config) (io.Writer, io.Closer) {
	if cfg.LogFile == "" {
		return os.Stderr, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
	return io.MultiWriter(os.Stderr, file), file
}

// setupLogging points the standard logger at logOutput. Close the result on
// exit.
func setupLogging(cfg *config.Config) io.Closer {
	w, c := logOutput(cfg)
	log.SetOutput(w)
	if cfg.LogFile != "" {
		log.Printf("logging to %s (rotated at %d MB, %d backups)", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	}
	return c
}
