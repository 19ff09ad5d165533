// The main package for the batchprogress executable.
package main

import (
	"github.com/JakeFAU/batch-progress/cmd"
)

func main() {
	cmd.Execute()
}
