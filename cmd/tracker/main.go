// Command tracker runs the change tracking CLI.
package main

import "github.com/mesh-intelligence/tracker/internal/cli"

func main() {
	cli.Execute()
}
