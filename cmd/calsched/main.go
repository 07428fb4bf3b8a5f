package main

import (
	"os"

	"github.com/calsched/calsched/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
