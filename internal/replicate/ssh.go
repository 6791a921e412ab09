package replicate

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport streams artifacts over a native SSH session instead of
// shelling out. Targets look like ssh://user@host[:port]/backup/dir.
// Host keys are verified against a known_hosts file; there is no
// interactive prompting, matching scp's BatchMode behavior.
type SSHTransport struct {
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
}

func NewSSHTransport(keyPath, knownHostsPath string) *SSHTransport {
	return &SSHTransport{
		KeyPath:        keyPath,
		KnownHostsPath: knownHostsPath,
		Timeout:        2 * time.Minute,
	}
}

func (t *SSHTransport) Copy(ctx context.Context, localPath, target string) error {
	user, addr, dir, err := parseSSHTarget(target)
	if err != nil {
		return err
	}

	cfg, err := t.clientConfig(user)
	if err != nil {
		return err
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- t.upload(client, localPath, dir) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Tearing down the connection aborts the in-flight session.
		client.Close()
		<-done
		return ctx.Err()
	}
}

func (t *SSHTransport) upload(client *ssh.Client, localPath, dir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	remotePath := path.Join(dir, filepath.Base(localPath))
	session.Stdin = f

	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod 600 %s",
		shellQuote(dir), shellQuote(remotePath), shellQuote(remotePath))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	return nil
}

func (t *SSHTransport) clientConfig(user string) (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", t.KeyPath, err)
	}

	hostKeys, err := knownhosts.New(t.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         30 * time.Second,
	}, nil
}

// parseSSHTarget splits ssh://user@host[:port]/dir into its parts.
func parseSSHTarget(target string) (user, addr, dir string, err error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "ssh" {
		return "", "", "", fmt.Errorf("invalid ssh target %q", target)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", "", "", fmt.Errorf("ssh target %q has no user", target)
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", "", fmt.Errorf("ssh target %q has no directory", target)
	}

	port := u.Port()
	if port == "" {
		port = "22"
	}
	return u.User.Username(), net.JoinHostPort(u.Hostname(), port), u.Path, nil
}

// shellQuote single-quotes s for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
