package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/imilosk/blobstore/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
