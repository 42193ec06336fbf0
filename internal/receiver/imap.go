package receiver

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPDialer connects to a mailbox folder over IMAP/IMAPS.
type IMAPDialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP dialer.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, timeout time.Duration, logger *slog.Logger) *IMAPDialer {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPDialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		timeout:  timeout,
		logger:   logger,
	}
}

// Connect dials the server, logs in and selects the folder.
func (d *IMAPDialer) Connect() (Session, error) {
	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))

	netConn, err := net.DialTimeout("tcp", addr, d.timeout)
	if err != nil {
		return nil, transportErr("imap connect "+addr, err)
	}

	var client *imapclient.Client
	if d.useTLS {
		tlsConn := tls.Client(netConn, &tls.Config{ServerName: d.host})
		client = imapclient.New(tlsConn, nil)
	} else {
		client = imapclient.New(netConn, nil)
	}

	if err := client.Login(d.username, d.password).Wait(); err != nil {
		client.Close()
		return nil, transportErr("imap login "+d.username, err)
	}

	data, err := client.Select(d.folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		client.Logout()
		client.Close()
		return nil, transportErr("imap select "+d.folder, err)
	}
	d.logger.Debug("selected folder", "folder", d.folder, "messages", data.NumMessages)

	return &imapSession{client: client, numMessages: data.NumMessages}, nil
}

type imapSession struct {
	client      *imapclient.Client
	numMessages uint32
}

// List returns sequence numbers 1..N as reported by SELECT.
func (s *imapSession) List() ([]int, error) {
	ids := make([]int, 0, s.numMessages)
	for i := uint32(1); i <= s.numMessages; i++ {
		ids = append(ids, int(i))
	}
	return ids, nil
}

func (s *imapSession) Retrieve(id int) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.SeqSetNum(uint32(id)), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})

	buffers, err := fetchCmd.Collect()
	if err != nil {
		return nil, transportErr(fmt.Sprintf("imap fetch %d", id), err)
	}
	if len(buffers) == 0 {
		return nil, transportErr(fmt.Sprintf("imap fetch %d", id), errors.New("message not found"))
	}
	return buffers[0].FindBodySection(bodySection), nil
}

func (s *imapSession) Close() error {
	logoutErr := s.client.Logout().Wait()
	closeErr := s.client.Close()
	if logoutErr != nil {
		return transportErr("imap logout", logoutErr)
	}
	// The client closes the connection itself once the server says BYE.
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return transportErr("imap close", closeErr)
	}
	return nil
}
