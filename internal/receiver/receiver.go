package receiver

import "fmt"

// Session is one authenticated connection to a mailbox.
type Session interface {
	// List returns the message numbers currently in the mailbox, oldest first.
	List() ([]int, error)

	// Retrieve returns the raw RFC 5322 bytes of message id.
	Retrieve(id int) ([]byte, error)

	// Close ends the session and releases the connection.
	Close() error
}

// Dialer opens mailbox sessions.
type Dialer interface {
	Connect() (Session, error)
}

// TransportError reports a connection, authentication or protocol failure
// talking to the mail server.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
