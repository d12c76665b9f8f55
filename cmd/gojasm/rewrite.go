package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/daimatz/gojasm/pkg/classfile"
)

func newRewriteCmd(a *app) *cobra.Command {
	var compact, raw bool
	cmd := &cobra.Command{
		Use:   "rewrite <in.class> <out.class>",
		Short: "Parse a class and write it back out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := args[0], args[1]
			readOpts := []classfile.Option{classfile.WithLogger(a.log)}
			if raw {
				readOpts = append(readOpts, classfile.WithRawAttributes())
			}
			c, err := classfile.ParseFile(in, readOpts...)
			if err != nil {
				return err
			}
			writeOpts := []classfile.Option{classfile.WithLogger(a.log)}
			if compact {
				writeOpts = append(writeOpts, classfile.WithFreshPool())
			}
			data, err := classfile.Marshal(c, writeOpts...)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			a.log.Info().Str("in", in).Str("out", out).Int("size", len(data)).Msg("rewrote class")
			return nil
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "rebuild the constant pool, dropping unused entries")
	cmd.Flags().BoolVar(&raw, "raw", false, "copy attributes without decoding them")
	return cmd
}
