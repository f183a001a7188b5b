package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	app := rootCommand()

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "aidirector: %v\n", err)
		os.Exit(1)
	}
}
