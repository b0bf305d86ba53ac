package main

import (
	"os"

	"allocator/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
