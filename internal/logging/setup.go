package logging

import (
	"io"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupProcess configures the package-level go-pkgz/lgr logger, mirroring
// the teacher's app/main.go setupLog: millisecond timestamps and bracketed
// level prefixes always on, caller file/func added only when verbose
// startup echo is requested (spec.md §6 "-v" flag).
func SetupProcess(verbose bool) {
	if verbose {
		log.Setup(log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}

// AccessLogWriter opens a rotated access-log file when facility names a
// path, or returns a discarding writer when it doesn't (spec.md §6's
// LogFacility directive controls where access-log output goes; "none"
// and the empty string both mean "don't write one"). Grounded on the
// teacher's app/main.go makeAccessLogWriter, same lumberjack.Logger shape.
func AccessLogWriter(facility string, maxSizeMB, maxBackups int) io.WriteCloser {
	if facility == "" || facility == "none" {
		return nopWriteCloser{io.Discard}
	}
	return &lumberjack.Logger{
		Filename:   facility,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
		LocalTime:  true,
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
