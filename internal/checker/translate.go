package checker

import (
	"bufio"
	"bytes"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/tracyhatemice/gomailcheck/internal/history"
)

// Placeholders used when the newest message lacks a header.
const (
	NoSubject     = "(No Subject)"
	UnknownSender = "(Unknown Sender)"
)

// Snapshot is what one mailbox poll observed.
type Snapshot struct {
	Count      int
	Sender     string
	Subject    string
	ReceivedAt *time.Time
}

// Observation returns the fields compared by change detection.
func (s Snapshot) Observation() history.Observation {
	return history.Observation{EmailCount: s.Count, LastSender: s.Sender, LastSubject: s.Subject}
}

// Translate turns a message count and the raw bytes of the newest message
// into a Snapshot. raw is ignored when count is zero. It never fails:
// missing headers become placeholders and undecodable bytes are dropped.
func Translate(count int, raw []byte) Snapshot {
	if count <= 0 {
		return Snapshot{}
	}

	snap := Snapshot{Count: count, Sender: UnknownSender, Subject: NoSubject}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		th, err = textproto.ReadHeader(bufio.NewReader(bytes.NewReader(salvageHeader(raw))))
		if err != nil {
			return snap
		}
	}
	h := mail.Header{Header: message.Header{Header: th}}

	if h.Has("Subject") {
		snap.Subject = headerText(h, "Subject")
	}
	if h.Has("From") {
		snap.Sender = headerText(h, "From")
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		snap.ReceivedAt = &date
	}
	return snap
}

// headerText decodes RFC 2047 encoded words, falling back to the raw value.
func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	v = unfold.Replace(v)
	return strings.ToValidUTF8(v, "")
}

// salvageHeader returns the header block of raw without lines that are
// neither "Key: value" fields nor continuations, so one broken line does not
// cost the fields around it.
func salvageHeader(raw []byte) []byte {
	var out bytes.Buffer
	for _, line := range bytes.SplitAfter(raw, []byte("\n")) {
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 {
			break
		}
		continuation := trimmed[0] == ' ' || trimmed[0] == '\t'
		if continuation && out.Len() == 0 {
			continue
		}
		if !continuation && !validFieldLine(trimmed) {
			continue
		}
		out.Write(trimmed)
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")
	return out.Bytes()
}

func validFieldLine(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	for _, c := range line[:i] {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

var unfold = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")
