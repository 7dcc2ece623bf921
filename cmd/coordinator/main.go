package main

import "strategy-coordinator/internal/cli"

func main() {
	cli.Execute()
}
