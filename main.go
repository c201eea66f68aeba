package main

import (
	"errors"
	"os"

	"github.com/signalnine/stopprobe/cmd"
	"github.com/signalnine/stopprobe/internal/runner"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		if errors.Is(err, runner.ErrBugReproduced) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
