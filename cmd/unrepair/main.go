// Command unrepair statically verifies ELF ABI-compatibility between a
// Python extension's bundled shared libraries and the system's own copies,
// and can patch the extension's DT_NEEDED entries to un-bundle them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
