package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// ExecSession runs one SSH exec channel per command, the OpenWrt model:
// no persistent shell, every call is stateless.
type ExecSession struct {
	client  *ssh.Client
	timeout time.Duration
}

// DialExec opens the SSH connection for per-command execution.
func DialExec(ctx context.Context, host string, port int, username, password string, timeout time.Duration) (*ExecSession, error) {
	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, port), cfg)
	if err != nil {
		return nil, &util.CommandError{Kind: util.KindTransport, Message: fmt.Sprintf("ssh dial %s:%d: %v", host, port, err)}
	}
	return &ExecSession{client: client, timeout: timeout}, nil
}

// Close tears down the SSH connection.
func (s *ExecSession) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Execute runs one command in a fresh session. A non-zero exit status is
// reported through the error with combined output attached.
func (s *ExecSession) Execute(ctx context.Context, command string) (string, error) {
	if s.client == nil {
		return "", util.ErrNotConnected
	}
	session, err := s.client.NewSession()
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "ssh session: " + err.Error()}
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return buf.String(), util.NewCommandError(util.KindCancelled, "", command, ctx.Err().Error())
	case <-time.After(s.timeout):
		session.Signal(ssh.SIGKILL)
		return buf.String(), &util.CommandError{Kind: util.KindTransport, Command: command, Message: "command timed out", Output: buf.String()}
	}

	output := strings.TrimRight(buf.String(), "\n")
	if err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			return output, &util.CommandError{Kind: util.KindVendorReject, Command: command, Message: "non-zero exit", Output: output}
		}
		return output, &util.CommandError{Kind: util.KindTransport, Command: command, Message: err.Error(), Output: output}
	}
	return output, nil
}
