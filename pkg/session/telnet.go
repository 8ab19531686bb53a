package session

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// Brocade prompt patterns. Matches user (>), privileged (#), and config
// sub-mode prompts: "telnet@FCX624 Router>", "Router#", "Router(config)#".
var (
	brocadePromptRE = regexp.MustCompile(`(?mi).+?(\([^)]+\))?[>#]\s*$`)
	moreRE          = regexp.MustCompile(`--More--`)
	// Privileged prompt at column 0 marks the end of a batch.
	brocadeExecPromptRE = regexp.MustCompile(`(?m)^[^\s(]+#\s*$`)
)

// TelnetSession is a line-oriented telnet transport for Brocade FastIron
// switches. The devices speak a bare line protocol; reads are driven by
// prompt recognition, and --More-- pagination is answered with a space
// until skip-page-display is in effect.
type TelnetSession struct {
	host    string
	port    int
	timeout time.Duration
	conn    net.Conn
}

// DialTelnet opens the TCP connection and consumes the login banner up
// to the first prompt.
func DialTelnet(ctx context.Context, host string, port int, timeout time.Duration) (*TelnetSession, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, &util.CommandError{Kind: util.KindTransport, Message: fmt.Sprintf("telnet dial %s:%d: %v", host, port, err)}
	}
	s := &TelnetSession{host: host, port: port, timeout: timeout, conn: conn}
	if _, err := s.readUntil(ctx, brocadePromptRE, 10*time.Second); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close tears down the TCP connection.
func (s *TelnetSession) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *TelnetSession) sendRaw(data string) error {
	if s.conn == nil {
		return util.ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := s.conn.Write([]byte(data)); err != nil {
		return &util.CommandError{Kind: util.KindTransport, Message: "telnet write: " + err.Error()}
	}
	return nil
}

// readUntil reads until the pattern matches, dismissing --More-- pages
// with a space, or until the deadline expires.
func (s *TelnetSession) readUntil(ctx context.Context, prompt *regexp.Regexp, timeout time.Duration) (string, error) {
	if s.conn == nil {
		return "", util.ErrNotConnected
	}
	var out strings.Builder
	buf := make([]byte, 8192)
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return out.String(), util.NewCommandError(util.KindCancelled, "", "", err.Error())
		}
		if time.Now().After(deadline) {
			return out.String(), &util.CommandError{Kind: util.KindTransport, Message: "timeout waiting for prompt", Output: out.String()}
		}

		s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := s.conn.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			text := out.String()
			if moreRE.MatchString(text) {
				if err := s.sendRaw(" "); err != nil {
					return text, err
				}
				continue
			}
			if prompt.MatchString(text) {
				return text, nil
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return out.String(), &util.CommandError{Kind: util.KindTransport, Message: "telnet read: " + err.Error(), Output: out.String()}
		}
	}
}

// Execute sends one command and returns its output with the echo and
// trailing prompt stripped.
func (s *TelnetSession) Execute(ctx context.Context, command string) (string, error) {
	if err := s.sendRaw(command + "\r\n"); err != nil {
		return "", err
	}
	raw, err := s.readUntil(ctx, brocadePromptRE, s.timeout)
	if err != nil {
		return raw, err
	}
	return stripEchoAndPrompt(raw, command, brocadePromptRE), nil
}

// ExecuteBatch writes all commands separated by newlines and reads until
// the privileged prompt returns at column 0. It does not wait per
// command; error scanning is the caller's job.
func (s *TelnetSession) ExecuteBatch(ctx context.Context, commands []string, timeout time.Duration) (string, error) {
	if len(commands) == 0 {
		return "", nil
	}
	if err := s.sendRaw(strings.Join(commands, "\r\n") + "\r\n"); err != nil {
		return "", err
	}
	return s.readUntil(ctx, brocadeExecPromptRE, timeout)
}

// Enable enters privileged mode, supplying the enable password when
// prompted.
func (s *TelnetSession) Enable(ctx context.Context, password string) error {
	if err := s.sendRaw("enable\r\n"); err != nil {
		return err
	}
	out, err := s.readUntil(ctx, regexp.MustCompile(`(?i)(password:|#\s*$)`), 5*time.Second)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(out), "password:") {
		if err := s.sendRaw(password + "\r\n"); err != nil {
			return err
		}
		out, err = s.readUntil(ctx, brocadePromptRE, 5*time.Second)
		if err != nil {
			return err
		}
	}
	if !strings.Contains(out, "#") {
		return &util.CommandError{Kind: util.KindTransport, Message: "failed to enter enable mode", Output: out}
	}
	return nil
}

func stripEchoAndPrompt(raw, command string, prompt *regexp.Regexp) string {
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && strings.Contains(lines[0], command) {
		lines = lines[1:]
	}
	if len(lines) > 0 && prompt.MatchString(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
