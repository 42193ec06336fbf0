package receiver

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	pop3client "github.com/knadh/go-pop3"
)

// POP3Dialer connects to a mailbox over POP3/POP3S.
type POP3Dialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPOP3 creates a new POP3 dialer.
func NewPOP3(host string, port int, username, password string, useTLS bool, timeout time.Duration, logger *slog.Logger) *POP3Dialer {
	return &POP3Dialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		timeout:  timeout,
		logger:   logger,
	}
}

// Connect dials the server and authenticates.
func (d *POP3Dialer) Connect() (Session, error) {
	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))

	client := pop3client.New(pop3client.Opt{
		Host:        d.host,
		Port:        d.port,
		DialTimeout: d.timeout,
		TLSEnabled:  d.useTLS,
	})

	d.logger.Debug("connecting to server", "addr", addr)
	conn, err := client.NewConn()
	if err != nil {
		return nil, transportErr("pop3 connect "+addr, err)
	}

	d.logger.Debug("logging in", "user", d.username)
	if err := conn.Auth(d.username, d.password); err != nil {
		conn.Quit()
		return nil, transportErr("pop3 auth "+d.username, err)
	}
	d.logger.Debug("connected", "addr", addr)

	return &pop3Session{conn: conn}, nil
}

type pop3Session struct {
	conn *pop3client.Conn
}

func (s *pop3Session) List() ([]int, error) {
	msgs, err := s.conn.List(0)
	if err != nil {
		return nil, transportErr("pop3 list", err)
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *pop3Session) Retrieve(id int) ([]byte, error) {
	buf, err := s.conn.RetrRaw(id)
	if err != nil {
		return nil, transportErr(fmt.Sprintf("pop3 retr %d", id), err)
	}
	return buf.Bytes(), nil
}

func (s *pop3Session) Close() error {
	if err := s.conn.Quit(); err != nil {
		return transportErr("pop3 quit", err)
	}
	return nil
}
