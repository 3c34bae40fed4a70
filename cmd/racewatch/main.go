// # cmd/racewatch/main.go
package main

import (
	"os"

	"racewatch/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
