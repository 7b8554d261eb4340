// Command installerpkg is the single-binary CLI facade over the package
// codec, key/PKI lifecycle, and installer driver: createKey, printKsr,
// signKey, create, extract, and install, each its own flag.FlagSet under
// one verb dispatch.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joncooperworks/installerpkg/keysuite"
)

// ErrUsage marks missing/invalid CLI input across every verb.
var ErrUsage = errors.New("installerpkg: usage error")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		logger.Error("missing verb", "usage", "installerpkg <createKey|printKsr|signKey|create|extract|install> [flags]")
		os.Exit(1)
	}

	verb := os.Args[1]
	args := os.Args[2:]

	var err error
	switch verb {
	case "createKey":
		err = runCreateKey(logger, args)
	case "printKsr":
		err = runPrintKsr(logger, args)
	case "signKey":
		err = runSignKey(logger, args)
	case "create":
		err = runCreate(logger, args)
	case "extract":
		err = runExtract(logger, args)
	case "install":
		var exitCode int
		exitCode, err = runInstall(logger, args)
		if err != nil {
			logger.Error("install failed", "error", err)
			os.Exit(mapExitCode(err))
		}
		os.Exit(exitCode)
	default:
		logger.Error("unknown verb", "verb", verb)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", "verb", verb, "error", err)
		os.Exit(mapExitCode(err))
	}
}

// mapExitCode maps an error to a process exit code: 2 for an invalid KSR,
// 1 for everything else (usage errors, integrity failures, untrusted
// packages, runtime errors). Install's setup exit code bypasses this
// mapping: it is used verbatim whenever install returns no error.
func mapExitCode(err error) int {
	if errors.Is(err, keysuite.ErrInvalidKSR) {
		return 2
	}
	return 1
}
