// The main package for the payparse executable.
package main

import (
	"github.com/JakeFAU/payparse/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
