//go:build windows

package main

import (
	"golang.org/x/term"
)

// enterKeyMode puts the console into raw mode
func enterKeyMode(fd int) (func(), error) {
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, old) }, nil
}
