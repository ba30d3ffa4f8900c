// fakeserver behaves like a console game server for manual testing of the
// panel: it reports readiness, echoes console lines and exits on "stop".
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to run before exiting on its own"`
	StartupDelay int    `long:"startup-delay" default:"1" description:"Seconds before the ready line"`
	StopCommand  string `long:"stop-command" default:"stop" description:"Console line that shuts the server down"`
	IgnoreSignal bool   `long:"ignore-signal" description:"Ignore SIGTERM so the panel has to kill the server"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting fake server, opts: %+v\n", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	time.Sleep(time.Duration(opts.StartupDelay) * time.Second)
	fmt.Printf("Done! Fake server is ready\n")

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Printf("Console closed, stopping\n")
				return
			}
			line = strings.TrimSpace(line)
			if line == opts.StopCommand {
				fmt.Printf("Stopping the server\n")
				time.Sleep(500 * time.Millisecond)
				fmt.Printf("Saved the world\n")
				return
			}
			fmt.Printf("Unknown command: %s\n", line)
			fmt.Fprintf(os.Stderr, "warning: echoed %q\n", line)
		case receivedSignal := <-sig:
			if opts.IgnoreSignal {
				fmt.Printf("Ignoring signal: %v\n", receivedSignal)
				continue
			}
			fmt.Printf("Fake server received signal: %v\n", receivedSignal)
			os.Exit(143)
		case <-ctx.Done():
			fmt.Printf("Run duration elapsed, exiting\n")
			os.Exit(1)
		}
	}
}
