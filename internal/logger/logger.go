// Package logger configures the process wide structured logger.
package logger

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// Setup installs log.DefaultLogger at the given level. Output is colored
// console text when w is a terminal and JSON lines otherwise.
func Setup(level string, w io.Writer) {
	var writer log.Writer = &log.IOWriter{Writer: w}
	if f, ok := w.(*os.File); ok && log.IsTerminal(f.Fd()) {
		writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    true,
			EndWithMessage: true,
		}
	}

	log.DefaultLogger = log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}
