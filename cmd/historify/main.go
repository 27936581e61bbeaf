// Command historify is the CLI dispatcher described in spec.md §6: a thin
// shell that parses argv and calls the core package, never implementing
// chain semantics itself.
package main

import "os"

func main() {
	os.Exit(Execute())
}
