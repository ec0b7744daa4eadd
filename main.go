// synclient - a synergy client with pinned TLS and SSH tunneling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"synclient/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "synclient: %v\n", err)
		os.Exit(1)
	}
}
