package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/triekv/triekv/internal/datagen"
)

type options struct {
	keyFile string
	output  string
	seed    int64
	gen     datagen.Options
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "triekv-datagen",
		Short: "Generate random nested records for loading a cluster",
		Long: `Reads a key file of '<name> <type>' lines (type is string, int or float)
and writes one random JSON object per line.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.keyFile, "keys", "k", "", "key file with '<name> <type>' lines")
	cmd.Flags().IntVarP(&opts.gen.Lines, "lines", "n", 0, "number of records to generate")
	cmd.Flags().IntVarP(&opts.gen.MaxNesting, "depth", "d", 0, "maximum level of nesting")
	cmd.Flags().IntVarP(&opts.gen.MaxStringLength, "length", "l", 4, "maximum length of a string value")
	cmd.Flags().IntVarP(&opts.gen.MaxKeys, "max-keys", "m", 1, "maximum number of keys inside each value")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "dataToIndex.txt", "output file, - for stdout")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed, 0 picks one from the clock")
	_ = cmd.MarkFlagRequired("keys")
	_ = cmd.MarkFlagRequired("lines")
	return cmd
}

func run(opts *options) error {
	f, err := os.Open(opts.keyFile)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	keys, err := datagen.ReadKeyFile(f)
	f.Close()
	if err != nil {
		return err
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen, err := datagen.NewGenerator(keys, opts.gen, seed)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if opts.output != "-" {
		file, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	if _, err := gen.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	return nil
}
