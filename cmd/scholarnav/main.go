// cmd/scholarnav/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprint(stderr, a.errors.FormatErrorForCLI(err))
		return a.errors.GetExitCode(err)
	}
	return 0
}

// printVersion displays version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ScholarNav %s\n", version)
	fmt.Fprintf(w, "Build time: %s\n", buildTime)
	fmt.Fprintf(w, "Git commit: %s\n", gitCommit)
}
