package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/gojasm/pkg/classfile"
	"github.com/daimatz/gojasm/pkg/classpath"
	"github.com/daimatz/gojasm/pkg/derrors"
)

func newRoundtripCmd(a *app) *cobra.Command {
	var freshPool bool
	cmd := &cobra.Command{
		Use:   "roundtrip [paths...]",
		Short: "Check that every class in the given sources survives read and write",
		Long: "Parse, write and re-parse every class found in the given .class files,\n" +
			"directories, jars and jmods, and check that writing is stable. With no\n" +
			"paths the java.base.jmod of the local JDK is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				jmod := findJmodPath()
				if jmod == "" {
					return derrors.Errorf(derrors.InvalidArgument, "no paths given and java.base.jmod not found; set JAVA_HOME or JAVA_BASE_JMOD")
				}
				args = []string{jmod}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var opts []classfile.Option
			if freshPool {
				opts = append(opts, classfile.WithFreshPool())
			}
			return a.roundtrip(ctx, args, opts)
		},
	}
	cmd.Flags().BoolVar(&freshPool, "fresh-pool", false, "write with a pool built from scratch")
	return cmd
}

// findJmodPath locates java.base.jmod from JAVA_BASE_JMOD, then JAVA_HOME,
// then the usual Linux install locations.
func findJmodPath() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

type roundtripStats struct {
	classes atomic.Int64
	failed  atomic.Int64

	mu   sync.Mutex
	errs *multierror.Error
}

func (s *roundtripStats) fail(err error) {
	s.failed.Add(1)
	s.mu.Lock()
	s.errs = multierror.Append(s.errs, err)
	s.mu.Unlock()
}

func (a *app) roundtrip(ctx context.Context, paths []string, opts []classfile.Option) error {
	start := time.Now()
	stats := &roundtripStats{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	visit := func(name string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			stats.classes.Add(1)
			if err := roundtripClass(data, opts); err != nil {
				a.log.Debug().Err(err).Str("class", name).Msg("roundtrip failed")
				stats.fail(fmt.Errorf("%s: %w", name, err))
			}
			return nil
		})
		return nil
	}

	var walkErr error
	for _, path := range paths {
		if err := a.walkPath(path, visit); err != nil {
			walkErr = err
			break
		}
	}
	if err := g.Wait(); err != nil && walkErr == nil {
		walkErr = err
	}

	a.log.Info().
		Int64("classes", stats.classes.Load()).
		Int64("failed", stats.failed.Load()).
		Int("workers", a.cfg.Workers).
		Dur("elapsed", time.Since(start)).
		Msg("roundtrip finished")

	if walkErr != nil {
		return walkErr
	}
	if err := stats.errs.ErrorOrNil(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(a.out, "%s %d classes\n", green("ok"), stats.classes.Load())
	return err
}

func (a *app) walkPath(path string, visit func(string, []byte) error) error {
	if filepath.Ext(path) == ".class" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return visit(path, data)
	}
	src, err := classpath.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	a.log.Debug().Str("source", path).Msg("walking")
	return src.Walk(visit)
}

// roundtripClass parses data, writes it, and checks that the written bytes
// parse and write back to themselves.
func roundtripClass(data []byte, opts []classfile.Option) error {
	c, err := classfile.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	first, err := classfile.Marshal(c, opts...)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	again, err := classfile.ParseBytes(first)
	if err != nil {
		return fmt.Errorf("re-parse: %w", err)
	}
	second, err := classfile.Marshal(again)
	if err != nil {
		return fmt.Errorf("re-write: %w", err)
	}
	if !bytes.Equal(first, second) {
		return derrors.Errorf(derrors.Internal, "output not stable: %d bytes then %d bytes", len(first), len(second))
	}
	return nil
}
