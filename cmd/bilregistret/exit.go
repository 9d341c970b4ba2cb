package main

import (
	stderrors "errors"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"bilregistret/internal/errors"
)

// Exit codes
const (
	exitGeneric      = 1
	exitUsage        = 2
	exitUnauthorized = 3
	exitUpstream     = 4
	exitNotFound     = 5
)

// cliError converts a lookup failure into a coded CLI error
func cliError(err error) error {
	if err == nil {
		return nil
	}
	le, ok := errors.AsLookupError(err)
	if !ok {
		return err
	}

	var code errbuilder.ErrCode
	switch le.Code {
	case errors.InvalidArgument:
		code = errbuilder.CodeInvalidArgument
	case errors.NotFound:
		code = errbuilder.CodeNotFound
	case errors.Unauthorized:
		code = errbuilder.CodePermissionDenied
	case errors.NetworkFailure, errors.Timeout, errors.MalformedResponse:
		code = errbuilder.CodeFailedPrecondition
	default:
		code = errbuilder.CodeInternal
	}
	return errbuilder.New().
		WithCode(code).
		WithMsg(le.Error()).
		WithCause(err)
}

func exitCodeForError(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return exitUsage
	case errbuilder.CodePermissionDenied:
		return exitUnauthorized
	case errbuilder.CodeFailedPrecondition:
		return exitUpstream
	case errbuilder.CodeNotFound:
		return exitNotFound
	default:
		return exitGeneric
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if stderrors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
