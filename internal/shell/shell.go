// Package shell implements the interactive command loop of the replication
// client.
package shell

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/triekv/triekv/internal/client"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/protocol"
	"go.uber.org/zap"
)

// Prompt is shown before every command
const Prompt = "Enter command (GET, DELETE, QUERY, COMPUTE or EXIT): "

const helpText = `Commands:
  GET <key>                                       read a top-level key from every live replica
  DELETE <key>                                    delete a key, refused while any replica is down
  QUERY <dotted.keypath>                          read a nested value from every live replica
  COMPUTE <expr> WHERE <var> = QUERY <keypath> [AND ...]
                                                  evaluate a formula on every replica
  HELP                                            show this help
  EXIT                                            close every connection and quit`

// LineReader yields input lines; *readline.Instance satisfies it
type LineReader interface {
	Readline() (string, error)
}

// Cluster is the part of the replication client the shell drives
type Cluster interface {
	Servers() []model.ServerAddress
	Get(ctx context.Context, key string) client.Result
	Query(ctx context.Context, path string) client.Result
	Delete(ctx context.Context, key string) (client.Result, error)
	Compute(ctx context.Context, formula string) client.Result
}

// Shell reads commands and prints per-replica replies
type Shell struct {
	cluster Cluster
	out     io.Writer
	logger  *zap.Logger
}

// New creates a shell writing to out
func New(cluster Cluster, out io.Writer, logger *zap.Logger) *Shell {
	return &Shell{cluster: cluster, out: out, logger: logger}
}

// Run executes commands until EXIT, end of input or ctx is done
func (s *Shell) Run(ctx context.Context, in LineReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := in.Readline()
		switch {
		case err == readline.ErrInterrupt:
			if line == "" {
				return nil
			}
			continue
		case err == io.EOF:
			return nil
		case err != nil:
			return fmt.Errorf("failed to read command: %w", err)
		}

		if exit := s.Execute(ctx, line); exit {
			return nil
		}
	}
}

// Execute runs one command line and reports whether the shell should exit
func (s *Shell) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	arg = strings.TrimSpace(arg)
	s.logger.Debug("Executing command", zap.String("command", verb))

	switch verb {
	case protocol.CmdExit:
		return true
	case "HELP":
		fmt.Fprintln(s.out, helpText)
		return false
	case protocol.CmdGet, protocol.CmdDelete, protocol.CmdQuery, protocol.CmdCompute:
	default:
		fmt.Fprintf(s.out, "unknown command '%s', type HELP for the list of commands\n", verb)
		return false
	}

	if arg == "" {
		fmt.Fprintf(s.out, "%s requires an argument\n", verb)
		return false
	}

	switch verb {
	case protocol.CmdGet:
		s.print(s.cluster.Get(ctx, arg))
	case protocol.CmdQuery:
		s.print(s.cluster.Query(ctx, arg))
	case protocol.CmdDelete:
		res, err := s.cluster.Delete(ctx, arg)
		if err != nil {
			fmt.Fprintf(s.out, "delete refused: %v\n", err)
			return false
		}
		s.print(res)
	case protocol.CmdCompute:
		s.print(s.cluster.Compute(ctx, line))
	}
	return false
}

func (s *Shell) print(res client.Result) {
	for _, rr := range res.Replies {
		fmt.Fprintln(s.out, rr.String())
	}
	fmt.Fprintf(s.out, "reachable: %d, unreachable: %d\n", res.Live, res.Down)
	if res.Degraded() {
		fmt.Fprintf(s.out, "WARNING: %s\n", res.Warning)
	}
}
