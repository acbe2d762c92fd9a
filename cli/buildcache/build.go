package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nimbusui/buildcache/buildctx"
	"github.com/nimbusui/buildcache/buildserver"
	"github.com/nimbusui/buildcache/castore/fs"
	"github.com/nimbusui/buildcache/config"
	"github.com/nimbusui/buildcache/internal/depgraph"
)

func newBuildCmd() *cobra.Command {
	var cacheMode string
	var watch bool

	cmd := &cobra.Command{
		Use:   "build <project-dir>...",
		Short: "Build one or more project directories through the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseCacheMode(cacheMode)
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}

			graph, names, err := buildGraph(args)
			if err != nil {
				return err
			}

			log := logrus.NewEntry(logrus.StandardLogger())
			builder := buildctx.New(graph, store, true, log)

			if !watch {
				return runOneBuild(cmd.Context(), builder, mode, names)
			}
			return runWatchBuild(cmd.Context(), graph, builder, mode, args, names, log)
		},
	}

	cmd.Flags().StringVar(&cacheMode, "cache-mode", "default", "default|force|readonly|off")
	cmd.Flags().BoolVar(&watch, "watch", false, "rebuild affected projects as sources change")
	return cmd
}

func parseCacheMode(s string) (buildctx.CacheMode, error) {
	switch buildctx.CacheMode(s) {
	case buildctx.CacheDefault, buildctx.CacheForce, buildctx.CacheReadOnly, buildctx.CacheOff:
		return buildctx.CacheMode(s), nil
	default:
		return "", fmt.Errorf("invalid --cache-mode %q (want default|force|readonly|off)", s)
	}
}

func openStore() (*fs.Store, error) {
	dir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return fs.New(dir)
}

func runOneBuild(ctx context.Context, builder *buildctx.Builder, mode buildctx.CacheMode, names []string) error {
	result, err := builder.Build(ctx, newDemoRequest(mode, names))
	if err != nil {
		return err
	}
	return printResult(result)
}

func printResult(result *buildctx.Result) error {
	failed := false
	for _, name := range sortedKeys(result.Projects) {
		pr := result.Projects[name]
		if pr.Err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", name, pr.Err)
			continue
		}
		fmt.Printf("%s: ok (signature %s, %d task(s) ran)\n", name, pr.Signature, len(pr.CompletedTasks))
	}
	if failed {
		return fmt.Errorf("buildcache: one or more projects failed")
	}
	return nil
}

func sortedKeys(m map[string]buildctx.ProjectResult) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func runWatchBuild(ctx context.Context, graph *depgraph.Graph, builder *buildctx.Builder, mode buildctx.CacheMode, dirs, names []string, log *logrus.Entry) error {
	server := buildserver.New(graph, builder, func(names []string) buildctx.Request {
		return newDemoRequest(mode, names)
	})

	roots := make(map[string]string, len(dirs))
	for i, dir := range dirs {
		roots[names[i]] = dir
	}

	watcher, err := buildserver.NewWatcher(graph, server, builder, roots, log)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := runOneBuild(ctx, builder, mode, names); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Println("watching for source changes (ctrl-c to stop)...")
	for {
		select {
		case <-sigCtx.Done():
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			logWatchEvent(ev)
		}
	}
}

func logWatchEvent(ev buildserver.Event) {
	switch {
	case ev.Err != nil:
		fmt.Fprintln(os.Stderr, "watch error:", ev.Err)
	case len(ev.SourcesChanged) > 0:
		fmt.Printf("sources changed: %v\n", ev.SourcesChanged)
	case ev.BuildFinished:
		fmt.Println("build finished")
	}
}
