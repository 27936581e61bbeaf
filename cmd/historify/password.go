package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// promptPassword reads the signer's password from the controlling terminal
// without echoing it, per spec.md §9: "the password is a short-lived
// secret ... never logged". It is only reached when HISTORIFY_PASSWORD is
// unset.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "signing password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
