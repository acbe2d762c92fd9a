// Command buildcache is the CLI surface (spec §6): build, serve, and
// cache maintenance subcommands over the reference in-memory
// DependencyGraph and filesystem Reader, wired against real project
// directories named on the command line. A production integration
// supplies its own DependencyGraph and TaskBody implementations (spec's
// Non-goals: "the dependency-graph product itself", "concrete build
// tasks") — this binary demonstrates the cache machinery end to end with
// the reference ones instead.
//
// Grounded on the teacher's cli/go-git: a thin main() that builds a
// command tree and prints a wrapped error to stderr with a non-zero exit
// on failure.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "buildcache:", err)
		os.Exit(1)
	}
}
