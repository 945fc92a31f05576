package main

import "github.com/dyike/DFUChat/internal/cli"

func main() {
	cli.Run()
}
