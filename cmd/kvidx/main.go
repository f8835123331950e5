package main

import "github.com/kvidx-db/kvidx/internal/cli"

func main() {
	cli.Execute()
}
