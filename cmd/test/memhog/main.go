// memhog allocates and touches memory, then idles, so that limits applied
// with rlmcli can be observed: under a small enough memory.max it is
// killed by the OOM killer while touching pages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	RunDuration int `long:"run-duration" description:"Duration in seconds to stay alive after allocating"`
	MemoryMB    int `long:"memory-mb" description:"Memory in Megabytes to allocate and touch"`
	StepMB      int `long:"step-mb" default:"16" description:"Report progress every this many Megabytes"`
}

const pageSize = 4096

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running memhog, pid: %d, opts: %+v...\n", os.Getpid(), opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var s []byte
	if opts.MemoryMB > 0 {
		fmt.Printf("Using MEMORY MB of %d Megabytes\n", opts.MemoryMB)
		s = make([]byte, opts.MemoryMB*1024*1024)
	}
	step := opts.StepMB * 1024 * 1024
	for i := 0; i < len(s); i += pageSize {
		s[i] = 1
		if step > 0 && i > 0 && i%step == 0 {
			fmt.Printf("Touched %d Megabytes\n", i/(1024*1024))
		}
	}
	fmt.Printf("Memhog holds %d Megabytes\n", len(s)/(1024*1024))

	<-ctx.Done()
	if ctx.Err() == context.DeadlineExceeded {
		fmt.Printf("Memhog timed out\n")
	} else {
		fmt.Printf("Memhog received signal\n")
	}

	// keep s reachable until here
	fmt.Printf("Memhog stopped, %d bytes released\n", len(s))
}
