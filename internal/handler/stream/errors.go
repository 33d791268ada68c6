package stream

import "errors"

type protocolError struct{ msg string }

func (e protocolError) Error() string { return e.msg }

var (
	errSessionMismatch = protocolError{"session mismatch"}
	errBadPayload      = protocolError{"invalid message payload"}
)

func errUnsupported(kind string) error {
	return protocolError{"unsupported message type: " + kind}
}

func isProtocolError(err error) bool {
	var pe protocolError
	return errors.As(err, &pe)
}
