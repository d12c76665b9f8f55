// Command gojasm inspects and rewrites JVM class files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daimatz/gojasm/internal/config"
)

var version = "dev"

// app is the state shared by every subcommand once flags and config have
// been resolved.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	log    zerolog.Logger
	out    io.Writer
	errOut io.Writer
}

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", red(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: config.New(), out: out, errOut: errOut, log: zerolog.Nop()}
	var cfgFile string

	root := &cobra.Command{
		Use:           "gojasm",
		Short:         "Read, print and rewrite JVM class files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFile(a.v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Resolve(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			color.NoColor = !cfg.UseColor(isTerminal(out))
			a.log = zerolog.New(zerolog.SyncWriter(zerolog.ConsoleWriter{
				Out:     errOut,
				NoColor: !cfg.UseColor(isTerminal(errOut)),
			})).Level(cfg.LogLevel).With().Timestamp().Logger()
			if cfg.File != "" {
				a.log.Debug().Str("file", cfg.File).Msg("loaded config")
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.gojasm.yaml)")
	pf.String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	pf.Int(config.KeyWorkers, 0, "classes processed in parallel (0 means one per CPU)")
	pf.String(config.KeyColor, config.ColorAuto, "colour output: auto, always, never")
	for _, key := range []string{config.KeyLogLevel, config.KeyWorkers, config.KeyColor} {
		_ = a.v.BindPFlag(key, pf.Lookup(key))
	}

	root.AddCommand(
		newDumpCmd(a),
		newRoundtripCmd(a),
		newRewriteCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.out, "gojasm %s\n", version)
			return err
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)
