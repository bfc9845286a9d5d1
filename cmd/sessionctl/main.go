package main

import (
	"fmt"
	"os"

	"github.com/sandeepkv93/session-auth-core/internal/tools/sessionctl"
)

func main() {
	if err := sessionctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
