package main

import "github.com/agentic-research/kgclose/cmd"

func main() {
	cmd.Execute()
}
