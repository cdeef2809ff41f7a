package main

import "github.com/cbout22/skills-sync/internal/cli"

func main() {
	cli.Execute()
}
