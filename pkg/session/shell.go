package session

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/switchcraft/switchcraft/pkg/util"
)

var (
	zyxelPromptRE = regexp.MustCompile(`.*# $`)
	ansiRE        = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
)

// legacyClientConfig builds an ssh.ClientConfig that negotiates with the
// GS1900's OpenSSH 6.2 firmware: old kex and cipher lists, password auth
// only. Lab management network — host keys are not verified.
func legacyClientConfig(username, password string, timeout time.Duration) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	cfg.KeyExchanges = []string{
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group1-sha1",
		"diffie-hellman-group-exchange-sha1",
	}
	cfg.Ciphers = []string{"aes128-cbc", "aes128-ctr", "aes192-ctr", "aes256-ctr", "3des-cbc"}
	cfg.HostKeyAlgorithms = []string{"ssh-rsa", "ssh-dss"}
	return cfg
}

// ShellSession is an interactive SSH shell for CLIs that do not support
// exec channels (Zyxel GS1900). Reads are prompt-driven; --More-- pages
// are dismissed with a space and removed from the output.
type ShellSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     <-chan []byte
	timeout time.Duration
	pending strings.Builder
}

// DialShell connects with legacy algorithms and opens an interactive
// shell, consuming the login banner up to the first prompt.
func DialShell(ctx context.Context, host string, port int, username, password string, timeout time.Duration) (*ShellSession, error) {
	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, port), legacyClientConfig(username, password, timeout))
	if err != nil {
		return nil, &util.CommandError{Kind: util.KindTransport, Message: fmt.Sprintf("ssh dial %s:%d: %v", host, port, err)}
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "ssh session: " + err.Error()}
	}

	modes := ssh.TerminalModes{ssh.ECHO: 0, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
	if err := session.RequestPty("vt100", 80, 200, modes); err != nil {
		session.Close()
		client.Close()
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "request pty: " + err.Error()}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "stdin pipe: " + err.Error()}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "stdout pipe: " + err.Error()}
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "shell: " + err.Error()}
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		buf := make([]byte, 65535)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				out <- chunk
			}
			if err != nil {
				return
			}
		}
	}()

	s := &ShellSession{client: client, session: session, stdin: stdin, out: out, timeout: timeout}

	// The GS1900 prints a "Press ENTER" banner before the first prompt.
	if _, err := s.readUntil(ctx, zyxelPromptRE, 10*time.Second); err != nil {
		s.stdin.Write([]byte("\r\n"))
		if _, err := s.readUntil(ctx, zyxelPromptRE, 5*time.Second); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close shuts the shell and connection.
func (s *ShellSession) Close() error {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

func (s *ShellSession) readUntil(ctx context.Context, prompt *regexp.Regexp, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		text := ansiRE.ReplaceAllString(s.pending.String(), "")
		if moreRE.MatchString(text) {
			if _, err := s.stdin.Write([]byte(" ")); err != nil {
				return text, &util.CommandError{Kind: util.KindTransport, Message: "shell write: " + err.Error()}
			}
			s.pending.Reset()
			s.pending.WriteString(moreRE.ReplaceAllString(text, ""))
		} else if prompt.MatchString(text) {
			s.pending.Reset()
			return text, nil
		}

		select {
		case chunk, ok := <-s.out:
			if !ok {
				return text, &util.CommandError{Kind: util.KindTransport, Message: "shell closed", Output: text}
			}
			s.pending.Write(chunk)
		case <-deadline.C:
			return text, &util.CommandError{Kind: util.KindTransport, Message: "timeout waiting for prompt", Output: text}
		case <-ctx.Done():
			return text, util.NewCommandError(util.KindCancelled, "", "", ctx.Err().Error())
		}
	}
}

// Execute sends one command and returns its output with the echo and
// trailing prompt stripped.
func (s *ShellSession) Execute(ctx context.Context, command string) (string, error) {
	if s.stdin == nil {
		return "", util.ErrNotConnected
	}
	if _, err := s.stdin.Write([]byte(command + "\r\n")); err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "shell write: " + err.Error()}
	}
	raw, err := s.readUntil(ctx, zyxelPromptRE, s.timeout)
	if err != nil {
		return raw, err
	}
	return stripEchoAndPrompt(raw, command, zyxelPromptRE), nil
}
