// Package main provides the entry point for the fstext CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/fstext/cmd/fstext/cmd"
	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, fserrors.FormatForCLI(err))
		os.Exit(1)
	}
}
