package main

import "host-sentinel/internal/cli"

func main() {
	cli.Execute()
}
