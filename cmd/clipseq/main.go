// Command clipseq plays and captures clip sequencer projects.
//
// Usage:
//
//	clipseq [flags] <command> [args]
//
// Commands:
//
//	play         - play a project on the default audio device
//	instruments  - list the built-in instruments and their parameters
//	config       - write or show the configuration file
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
