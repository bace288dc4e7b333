package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/protocol"
	"github.com/triekv/triekv/internal/service"
	"github.com/triekv/triekv/internal/storage/trie"
	"go.uber.org/zap"
)

// CommandHandler dispatches protocol lines to the store service
type CommandHandler struct {
	storeService *service.StoreService
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// Result is the outcome of one request line
type Result struct {
	Reply string
	Close bool // the connection ends after Reply is written
}

// NewCommandHandler creates a new command handler. m may be nil.
func NewCommandHandler(storeSvc *service.StoreService, m *metrics.Metrics, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		storeService: storeSvc,
		metrics:      m,
		logger:       logger,
	}
}

// Handle processes one request line. It never panics: failures of any kind
// become an ERROR reply and the connection stays usable.
func (h *CommandHandler) Handle(ctx context.Context, line string) (res Result) {
	startTime := time.Now()
	verb := "INVALID"
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Command panicked",
				zap.String("command", verb),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err := errors.InternalError(fmt.Sprintf("internal error: %v", r), nil)
			res = Result{Reply: protocol.ErrorReply(err)}
			status = "error"
			h.recordError(err)
		}
		if h.metrics != nil {
			h.metrics.RecordCommand(verb, status, time.Since(startTime).Seconds(), len(line))
		}
	}()

	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		status = "error"
		return h.fail(err)
	}
	verb = cmd.Verb

	res, err = h.dispatch(ctx, cmd)
	if err != nil {
		status = "error"
		h.logger.Debug("Command failed",
			zap.String("command", cmd.Verb),
			zap.Error(err))
		return h.fail(err)
	}
	return res
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd protocol.Command) (Result, error) {
	switch cmd.Verb {
	case protocol.CmdPing:
		return Result{Reply: protocol.ReplyPong}, nil

	case protocol.CmdExit:
		return Result{Reply: protocol.ReplyOK, Close: true}, nil

	case protocol.CmdPut:
		if _, err := h.storeService.Put(ctx, cmd.Arg); err != nil {
			return Result{}, err
		}
		return Result{Reply: protocol.ReplyOK}, nil

	case protocol.CmdGet:
		value, status, err := h.storeService.Get(ctx, cmd.Arg)
		if err != nil {
			return Result{}, err
		}
		switch status {
		case trie.NotFound:
			return Result{Reply: protocol.ReplyNotFound}, nil
		case trie.Tombstoned:
			return Result{Reply: protocol.DeletedReply(cmd.Arg)}, nil
		}
		reply, err := protocol.ValueReply(value)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: reply}, nil

	case protocol.CmdDelete:
		if err := h.storeService.Delete(ctx, cmd.Arg); err != nil {
			return Result{}, err
		}
		return Result{Reply: protocol.ReplyOK}, nil

	case protocol.CmdQuery:
		value, found, err := h.storeService.Query(ctx, cmd.Arg)
		if err != nil {
			return Result{}, err
		}
		if !found {
			return Result{Reply: protocol.ReplyNotFound}, nil
		}
		reply, err := protocol.ValueReply(value)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: reply}, nil

	case protocol.CmdCompute:
		result, err := h.storeService.Compute(ctx, cmd.Line)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: protocol.NumberReply(result)}, nil

	default:
		return Result{}, errors.UnknownCommand(cmd.Verb)
	}
}

func (h *CommandHandler) fail(err error) Result {
	h.recordError(err)
	return Result{Reply: protocol.ErrorReply(err)}
}

func (h *CommandHandler) recordError(err error) {
	if h.metrics != nil {
		h.metrics.RecordError(errors.GetCode(err).String())
	}
}
