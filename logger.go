package avplay

import (
	"log"

	"github.com/colinpaint/ffplay/internal/engine"
)

var pkgLogger Logger = log.Default()

type Logger interface {
	Printf(format string, v ...any)
}

// SetLogger replaces both this package's logger and the internal/engine
// one, so a caller only has one seam to configure for the whole pipeline.
// The engine components make no log calls of their own; the messages come
// from this package.
func SetLogger(logger Logger) {
	pkgLogger = logger
	engine.SetLogger(logger)
}
