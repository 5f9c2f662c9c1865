// Command x0001e loads an LLVM bitcode module, symbolically executes one
// of its functions, and prints the outcome of every explored path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"

	"github.com/norlen/x0001e/project"
	"github.com/norlen/x0001e/solver"
	"github.com/norlen/x0001e/state"
	"github.com/norlen/x0001e/vm"
)

func main() {
	var (
		entry       = flag.String("entry", "main", "name of the function to symbolically execute")
		maxIndirect = flag.Int("max-indirect-targets", vm.DefaultMaxIndirectTargets, "cap on distinct indirect-call targets before giving up")
		boundsCheck = flag.Bool("bounds-check", true, "fail paths that read or write out-of-bounds memory")
		verbose     = flag.Bool("v", false, "enable debug logging")
		maxPaths    = flag.Int("max-paths", 0, "stop after this many completed paths (0 means no limit)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <module.bc>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	bcPath := flag.Arg(0)

	log := logrus.StandardLogger()
	if level, ok := os.LookupEnv("X0001E_LOG_LEVEL"); ok {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "x0001e: invalid X0001E_LOG_LEVEL %q: %s\n", level, err)
			os.Exit(1)
		}
		log.SetLevel(parsed)
	}
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(bcPath, *entry, *maxIndirect, *boundsCheck, *maxPaths, log); err != nil {
		fmt.Fprintf(os.Stderr, "x0001e: %s\n", err)
		os.Exit(1)
	}
}

func run(bcPath, entry string, maxIndirect int, boundsCheck bool, maxPaths int, log logrus.FieldLogger) error {
	p, err := project.Load(bcPath)
	if err != nil {
		return err
	}

	engine, err := vm.New(entry, p,
		vm.WithBoundsChecking(boundsCheck),
		vm.WithMaxIndirectTargets(maxIndirect),
		vm.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	n := 0
	ok := 0
	for outcome := range engine.Paths() {
		n++
		fmt.Printf("--- path %d (state %s) ---\n", n, outcome.StateID)
		if outcome.Ok() {
			ok++
			if outcome.Return.Kind == state.ReturnValueKind {
				sol, err := outcome.Witness(engine.Solver(), func() (solver.Concrete, error) {
					return engine.Solver().GetSolution(outcome.Return.Value)
				})
				if err != nil {
					fmt.Printf("ok: %# v (no concrete witness: %s)\n", pretty.Formatter(outcome.Return), err)
				} else {
					fmt.Printf("ok: return = 0x%x\n", sol.Value)
				}
			} else {
				fmt.Println("ok: void")
			}
		} else {
			fmt.Printf("error: %s\n", outcome.Err)
		}
		if maxPaths > 0 && n >= maxPaths {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Printf("explored %d path(s), %d completed normally\n", n, ok)
	return nil
}
