package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// Download fetches a remote file over SCP (source mode). Used for the
// OpenWrt whole-file /etc/config/network workflow.
func (s *ExecSession) Download(ctx context.Context, remotePath string) (string, error) {
	if s.client == nil {
		return "", util.ErrNotConnected
	}
	session, err := s.client.NewSession()
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp session: " + err.Error()}
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp stdin: " + err.Error()}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp stdout: " + err.Error()}
	}

	if err := session.Start("scp -f " + remotePath); err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp start: " + err.Error()}
	}

	// Source-mode protocol: ack, read "C<mode> <size> <name>", ack,
	// read size bytes, ack the trailing status byte.
	if _, err := stdin.Write([]byte{0}); err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp ack: " + err.Error()}
	}
	header, err := readLine(stdout)
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp header: " + err.Error()}
	}
	if !strings.HasPrefix(header, "C") {
		return "", &util.CommandError{Kind: util.KindProtocol, Message: "unexpected scp header: " + header}
	}
	fields := strings.Fields(header[1:])
	if len(fields) < 2 {
		return "", &util.CommandError{Kind: util.KindProtocol, Message: "malformed scp header: " + header}
	}
	var size int64
	if _, err := fmt.Sscanf(fields[1], "%d", &size); err != nil {
		return "", &util.CommandError{Kind: util.KindProtocol, Message: "malformed scp size: " + header}
	}

	if _, err := stdin.Write([]byte{0}); err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp ack: " + err.Error()}
	}
	content := make([]byte, size)
	if _, err := io.ReadFull(stdout, content); err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "scp read: " + err.Error()}
	}
	io.CopyN(io.Discard, stdout, 1)
	stdin.Write([]byte{0})
	stdin.Close()
	session.Wait()

	return string(content), nil
}

// Upload writes a file over SCP (sink mode). Empty or whitespace-only
// content is rejected before any transfer: a blank /etc/config/network
// bricks the device.
func (s *ExecSession) Upload(ctx context.Context, remotePath, content string) error {
	if strings.TrimSpace(content) == "" {
		return util.NewCommandError(util.KindValidation, "", "",
			fmt.Sprintf("refusing to upload empty content to %s", remotePath))
	}
	if s.client == nil {
		return util.ErrNotConnected
	}
	session, err := s.client.NewSession()
	if err != nil {
		return &util.CommandError{Kind: util.KindTransport, Message: "scp session: " + err.Error()}
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return &util.CommandError{Kind: util.KindTransport, Message: "scp stdin: " + err.Error()}
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	dir := "/"
	name := remotePath
	if idx := strings.LastIndex(remotePath, "/"); idx >= 0 {
		dir = remotePath[:idx]
		name = remotePath[idx+1:]
		if dir == "" {
			dir = "/"
		}
	}

	if err := session.Start("scp -t " + dir); err != nil {
		return &util.CommandError{Kind: util.KindTransport, Message: "scp start: " + err.Error()}
	}

	go func() {
		defer stdin.Close()
		fmt.Fprintf(stdin, "C0644 %d %s\n", len(content), name)
		io.WriteString(stdin, content)
		stdin.Write([]byte{0})
	}()

	if err := session.Wait(); err != nil {
		return &util.CommandError{Kind: util.KindTransport, Message: "scp upload: " + err.Error(), Output: stderr.String()}
	}
	return nil
}

func readLine(r io.Reader) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		if _, err := r.Read(buf); err != nil {
			return string(line), err
		}
		if buf[0] == '\n' {
			return string(line), nil
		}
		line = append(line, buf[0])
	}
}
