// SPDX-License-Identifier: MPL-2.0

// Command hotswap is the CLI entry point for the live-update engine.
package main

import cmd "github.com/andiusndd/hotswap/cmd/hotswap"

func main() {
	cmd.Execute()
}
