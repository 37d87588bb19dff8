// Command recordlink is the operator CLI for the identity and mapping stores.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
