package server

// HandlerError is a failure reported to the client as an error reply.
// Fatal errors close the connection once the reply is written.
type HandlerError struct {
	Msg   string
	Fatal bool
}

func (e *HandlerError) Error() string {
	return e.Msg
}

// Fail returns a recoverable handler error.
func Fail(msg string) error {
	return &HandlerError{Msg: msg}
}

// Fatal returns a handler error that ends the session.
func Fatal(msg string) error {
	return &HandlerError{Msg: msg, Fatal: true}
}

// genericError is sent for failures that are not a HandlerError.
const genericError = "Unexpected error."
