package main

import (
	"fmt"
	"os"

	"github.com/danmuck/homelink/internal/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "homelink: %s error: %v\n", protocol.KindOf(err), err)
		os.Exit(1)
	}
}
