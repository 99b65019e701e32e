// toolbridge connects chat models to tool providers.
package main

import (
	"fmt"
	"os"

	"github.com/sammcj/toolbridge/cli"
)

func main() {
	if err := cli.NewApp().Execute(os.Args[1:]...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
