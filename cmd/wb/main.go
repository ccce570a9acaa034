package main

import (
	"fmt"
	"os"

	"workbench/internal/wbcli"
)

func main() {
	if err := wbcli.NewRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "wb:", err)
		os.Exit(1)
	}
}
