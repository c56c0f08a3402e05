package main

import "arb-radar/internal/cli"

func main() {
	cli.Execute()
}
