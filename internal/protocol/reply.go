package protocol

import (
	"strings"

	"github.com/triekv/triekv/internal/model"
)

// ReplyKind classifies a reply line
type ReplyKind int

const (
	ReplyKindUnknown ReplyKind = iota
	ReplyKindOK
	ReplyKindPong
	ReplyKindNotFound
	ReplyKindDeleted
	ReplyKindError
	ReplyKindValue
)

// String implements fmt.Stringer
func (k ReplyKind) String() string {
	switch k {
	case ReplyKindOK:
		return "ok"
	case ReplyKindPong:
		return "pong"
	case ReplyKindNotFound:
		return "not_found"
	case ReplyKindDeleted:
		return "deleted"
	case ReplyKindError:
		return "error"
	case ReplyKindValue:
		return "value"
	default:
		return "unknown"
	}
}

// Reply is a decoded server reply. Value is set for ReplyKindValue, Text
// holds the raw line (or the message for ReplyKindError).
type Reply struct {
	Kind  ReplyKind
	Text  string
	Value model.Value
}

// ParseReply decodes one reply line
func ParseReply(line string) Reply {
	line = strings.TrimRight(line, "\r\n")

	switch line {
	case ReplyOK:
		return Reply{Kind: ReplyKindOK, Text: line}
	case ReplyPong:
		return Reply{Kind: ReplyKindPong, Text: line}
	case ReplyNotFound:
		return Reply{Kind: ReplyKindNotFound, Text: line}
	}

	if line == ErrorPrefix || strings.HasPrefix(line, ErrorPrefix+" ") {
		return Reply{Kind: ReplyKindError, Text: strings.TrimSpace(strings.TrimPrefix(line, ErrorPrefix))}
	}

	if v, err := model.ParseValue([]byte(line)); err == nil {
		return Reply{Kind: ReplyKindValue, Text: line, Value: v}
	}

	if strings.HasSuffix(line, DeletedSuffix) && len(line) > len(DeletedSuffix) {
		return Reply{Kind: ReplyKindDeleted, Text: line}
	}

	return Reply{Kind: ReplyKindUnknown, Text: line}
}

// IsOK reports a plain acknowledgement
func (r Reply) IsOK() bool { return r.Kind == ReplyKindOK }

// IsError reports an ERROR reply
func (r Reply) IsError() bool { return r.Kind == ReplyKindError }

// Number returns the numeric payload of a COMPUTE reply
func (r Reply) Number() (float64, bool) {
	if r.Kind != ReplyKindValue {
		return 0, false
	}
	return r.Value.AsNumber()
}

// String returns the line as it appeared on the wire
func (r Reply) String() string {
	if r.Kind == ReplyKindError && r.Text != "" {
		return ErrorPrefix + " " + r.Text
	}
	if r.Kind == ReplyKindError {
		return ErrorPrefix
	}
	return r.Text
}
