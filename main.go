// ./main.go
package main

import (
	"github.com/riftlab/automaton/cmd"
)

// main is the entry point for the automaton CLI.
func main() {
	cmd.Execute()
}
