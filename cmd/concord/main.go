// Command concord compares annotation sets from several annotators and
// curates them into one merged set.
package main

import "github.com/mesh-intelligence/concord/internal/cli"

func main() {
	cli.Execute()
}
