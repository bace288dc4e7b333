// Package protocol defines the line-oriented text protocol spoken between
// the store servers and the replication client. Every request and every
// reply is exactly one UTF-8 line terminated by '\n'.
package protocol

import (
	"strings"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/model"
)

// Command verbs
const (
	CmdPing    = "PING"
	CmdPut     = "PUT"
	CmdGet     = "GET"
	CmdDelete  = "DELETE"
	CmdQuery   = "QUERY"
	CmdCompute = "COMPUTE"
	CmdExit    = "EXIT"
)

// Fixed replies
const (
	ReplyPong     = "PONG"
	ReplyOK       = "OK"
	ReplyNotFound = "NOT FOUND"

	ErrorPrefix   = "ERROR"
	DeletedSuffix = " deleted"
)

// Terminator ends every request and reply line
const Terminator = '\n'

// Verbs lists every command the server understands
var Verbs = []string{CmdPing, CmdPut, CmdGet, CmdDelete, CmdQuery, CmdCompute, CmdExit}

// takesArgument reports which verbs require a non-empty argument
var takesArgument = map[string]bool{
	CmdPing:    false,
	CmdPut:     true,
	CmdGet:     true,
	CmdDelete:  true,
	CmdQuery:   true,
	CmdCompute: true,
	CmdExit:    false,
}

// Command is one parsed request line
type Command struct {
	Verb string // upper-cased
	Arg  string // rest of the line, trimmed
	Line string // whole line without the terminator
}

// ParseCommand splits a request line into verb and argument. The verb is
// matched case-insensitively.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(strings.TrimRight(line, "\r\n"))
	if line == "" {
		return Command{}, errors.MalformedRequest("empty command", nil)
	}

	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	arg = strings.TrimSpace(arg)

	needsArg, known := takesArgument[verb]
	if !known {
		return Command{}, errors.UnknownCommand(verb)
	}
	if needsArg && arg == "" {
		return Command{}, errors.MalformedRequest(verb+" requires an argument", nil)
	}
	if !needsArg && arg != "" {
		return Command{}, errors.MalformedRequest(verb+" takes no argument", nil)
	}

	return Command{Verb: verb, Arg: arg, Line: line}, nil
}

// FormatCommand builds a request line without the terminator
func FormatCommand(verb, arg string) string {
	if arg == "" {
		return verb
	}
	return verb + " " + arg
}

// DeletedReply is the notice returned by GET for a tombstoned key
func DeletedReply(key string) string {
	return key + DeletedSuffix
}

// ErrorReply converts an error into an ERROR line
func ErrorReply(err error) string {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return ErrorPrefix + " " + msg
}

// ValueReply serializes a value as compact JSON
func ValueReply(v model.Value) (string, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return "", errors.InternalError("failed to encode value", err)
	}
	return string(data), nil
}

// NumberReply renders a COMPUTE result
func NumberReply(n float64) string {
	return model.FormatNumber(n)
}
