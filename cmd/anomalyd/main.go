// Command anomalyd detects bursts of error logs and opens incidents for them.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
