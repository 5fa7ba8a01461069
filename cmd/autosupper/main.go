package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	sloggger "github.com/autosupper/autosupper/cmd/autosupper/log"
)

var (
	buildID   string
	buildTime string
)

// wrapWithRecover wraps a function with panic recovery logic
func wrapWithRecover(logger *slog.Logger, f func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				stackTrace := debug.Stack()
				errMsg := fmt.Sprintf("panic recovered: %v\nStacktrace: %s", r, stackTrace)
				logger.Error(errMsg)
				sloggger.FlushLog()
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return f()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
