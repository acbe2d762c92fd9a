package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nimbusui/buildcache/buildctx"
	"github.com/nimbusui/buildcache/buildserver"
	"github.com/nimbusui/buildcache/resource"
)

func newServeCmd() *cobra.Command {
	var addr string
	var cacheMode string

	cmd := &cobra.Command{
		Use:   "serve <project-dir>...",
		Short: "Serve one or more projects through the lazy build server",
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
			server := buildserver.New(graph, builder, func(names []string) buildctx.Request {
				return newDemoRequest(mode, names)
			})

			roots := make(map[string]string, len(args))
			for i, dir := range args {
				roots[names[i]] = dir
			}
			watcher, err := buildserver.NewWatcher(graph, server, builder, roots, log)
			if err != nil {
				return err
			}
			defer watcher.Close()
			go drainWatcherEvents(watcher, log)

			return runHTTPServer(cmd.Context(), addr, server, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&cacheMode, "cache-mode", "default", "default|force|readonly|off")
	return cmd
}

func drainWatcherEvents(watcher *buildserver.Watcher, log *logrus.Entry) {
	for ev := range watcher.Events() {
		switch {
		case ev.Err != nil:
			log.WithError(ev.Err).Warn("watch error")
		case len(ev.SourcesChanged) > 0:
			log.WithField("paths", ev.SourcesChanged).Info("sources changed")
		case ev.BuildFinished:
			log.Info("rebuild finished")
		}
	}
}

// runHTTPServer exposes the all-projects BuildReader view over HTTP: a GET
// of any path resolves through the lazy build server, triggering a build
// on first access (spec §4.9's "serves built output on demand").
func runHTTPServer(ctx context.Context, addr string, server *buildserver.Server, log *logrus.Entry) error {
	reader := server.AllProjects()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		servePath(w, req, reader)
	})

	httpServer := &http.Server{Addr: addr, Handler: mux}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	log.WithField("addr", addr).Info("serving")
	select {
	case <-sigCtx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func servePath(w http.ResponseWriter, req *http.Request, reader resource.Reader) {
	ctx := req.Context()
	path := req.URL.Path
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}

	res, err := reader.ByPath(ctx, path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res == nil {
		http.NotFound(w, req)
		return
	}

	rc, err := res.Open(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Length", fmt.Sprintf("%d", res.Size()))
	if _, err := io.Copy(w, rc); err != nil {
		logrus.NewEntry(logrus.StandardLogger()).WithError(err).Warn("failed writing response body")
	}
}
