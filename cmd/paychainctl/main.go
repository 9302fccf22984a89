package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
