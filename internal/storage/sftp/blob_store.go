// Package sftp delivers artifacts to a remote host over SFTP.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Config captures the SFTP connection parameters.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	RemoteDir string
	// InsecureIgnoreHostKey skips host key verification. Without it,
	// HostKey must hold the server's public key in authorized_keys format.
	InsecureIgnoreHostKey bool
	HostKey               string
	DialTimeout           time.Duration
}

// BlobStore writes artifacts below RemoteDir on an SFTP server. Uploads are
// serialized because one client session is shared.
type BlobStore struct {
	mu        sync.Mutex
	client    *sftp.Client
	ssh       *ssh.Client
	remoteDir string
	host      string
}

// Dial opens an SSH session and an SFTP subsystem on it.
func Dial(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return nil, errors.New("sftp host, user and password are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 20 * time.Second
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialResult{client: c, err: err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, fmt.Errorf("sftp dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("sftp dial %s: %w", addr, r.err)
		}
		sshClient = r.client
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp new client: %w", err)
	}
	s, err := NewWithClient(client, cfg.RemoteDir)
	if err != nil {
		_ = client.Close()
		_ = sshClient.Close()
		return nil, err
	}
	s.ssh = sshClient
	s.host = addr
	return s, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil // #nosec G106 -- explicit opt-in for dev servers.
	}
	if strings.TrimSpace(cfg.HostKey) == "" {
		return nil, errors.New("sftp host_key is required unless insecure_ignore_host_key is set")
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
	if err != nil {
		return nil, fmt.Errorf("parse sftp host key: %w", err)
	}
	return ssh.FixedHostKey(key), nil
}

// NewWithClient wraps an established SFTP client.
func NewWithClient(client *sftp.Client, remoteDir string) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("sftp client is required")
	}
	if remoteDir == "" {
		remoteDir = "/"
	}
	return &BlobStore{client: client, remoteDir: remoteDir, host: "sftp"}, nil
}

// PutObject creates or truncates remoteDir/p and copies r into it.
func (s *BlobStore) PutObject(ctx context.Context, p string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("sftp put: %w", err)
	}
	remotePath := path.Join(s.remoteDir, path.Clean("/"+p))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.MkdirAll(path.Dir(remotePath)); err != nil {
		return "", fmt.Errorf("sftp mkdir %s: %w", path.Dir(remotePath), err)
	}
	dst, err := s.client.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("sftp create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("sftp upload %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("sftp close %s: %w", remotePath, err)
	}
	return "sftp://" + s.host + remotePath, nil
}

// Close ends the SFTP session and the SSH connection it runs on.
func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sftp client: %w", err))
	}
	if s.ssh != nil {
		if err := s.ssh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ssh client: %w", err))
		}
	}
	return errors.Join(errs...)
}
