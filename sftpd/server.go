// Package sftpd is a small SFTP server that exposes a share over SSH. It is
// used to run the network provider end to end against the in-memory share.
package sftpd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/pterodactyl/sharefs/config"
	"github.com/pterodactyl/sharefs/internal/notify"
	"github.com/pterodactyl/sharefs/vfs"
)

// Server accepts SSH connections and serves the sftp subsystem on them. Every
// session gets its own provider connection from the dialer.
type Server struct {
	dial     vfs.Dialer
	BasePath string
	ReadOnly bool
	Listen   string
	Username string
	Password string
}

// New returns a server configured from the sftpd configuration block.
func New(dial vfs.Dialer, cfg config.SftpdConfiguration) *Server {
	return &Server{
		dial:     dial,
		BasePath: cfg.DataDirectory,
		ReadOnly: cfg.ReadOnly,
		Listen:   cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

// Run starts listening and serves connections until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	keyPath := filepath.Join(s.BasePath, ".sftp", "id_rsa")
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		if err := s.generatePrivateKey(keyPath); err != nil {
			return err
		}
	} else if err != nil {
		return errors.Wrap(err, "sftpd: could not stat private key file")
	}
	pb, err := os.ReadFile(keyPath)
	if err != nil {
		return errors.Wrap(err, "sftpd: could not read private key file")
	}
	private, err := ssh.ParsePrivateKey(pb)
	if err != nil {
		return errors.Wrap(err, "sftpd: could not parse private key file")
	}

	conf := &ssh.ServerConfig{
		MaxAuthTries:     6,
		PasswordCallback: s.passwordCallback,
	}
	conf.AddHostKey(private)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.Listen)
	if err != nil {
		return errors.Wrap(err, "sftpd: could not listen")
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	log.WithField("listen", s.Listen).Info("sftp server listening for connections")
	if err := notify.Readiness(); err != nil {
		log.WithField("error", err).Warn("failed to notify the service manager")
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				_ = notify.Stopping()
				return nil
			}
			log.WithField("error", err).Warn("failed to accept inbound connection")
			continue
		}
		go func(conn net.Conn) {
			defer conn.Close()
			s.AcceptInbound(ctx, conn, conf)
		}(conn)
	}
}

// AcceptInbound performs the SSH handshake and serves every session channel
// that asks for the sftp subsystem.
func (s *Server) AcceptInbound(ctx context.Context, conn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		log.WithField("ip", conn.RemoteAddr().String()).WithField("error", err).Debug("ssh handshake failed")
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}

		go func(in <-chan *ssh.Request) {
			for req := range in {
				// Only the sftp subsystem is served; "pty", "shell" and the like
				// are refused.
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
			}
		}(requests)

		logger := log.WithFields(log.Fields{
			"subsystem": "sftpd",
			"session":   uuid.New().String(),
			"username":  sconn.User(),
			"ip":        sconn.RemoteAddr().String(),
		})
		provider, err := s.dial(ctx)
		if err != nil {
			logger.WithField("error", err).Error("failed to connect to share for session")
			_ = channel.Close()
			continue
		}
		if err := ServeConn(channel, provider, s.ReadOnly, logger); err != nil {
			logger.WithField("error", err).Warn("sftp session ended with an error")
		}
		_ = provider.Close()
	}
}

// ServeConn serves a single SFTP session over rwc until the client hangs up.
func ServeConn(rwc io.ReadWriteCloser, provider vfs.Provider, readOnly bool, logger *log.Entry) error {
	handler := NewHandler(provider, readOnly, logger)
	rs := sftp.NewRequestServer(rwc, handler.Handlers())
	err := rs.Serve()
	_ = rs.Close()
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) generatePrivateKey(p string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "sftpd: could not create .sftp directory")
	}
	o, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.WithStack(err)
	}
	defer o.Close()

	err = pem.Encode(o, &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return errors.WithStack(err)
}

func (s *Server) passwordCallback(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	logger := log.WithFields(log.Fields{"subsystem": "sftpd", "username": conn.User(), "ip": conn.RemoteAddr().String()})
	logger.Debug("validating credentials for sftp connection")

	userOk := subtle.ConstantTimeCompare([]byte(conn.User()), []byte(s.Username)) == 1
	passOk := subtle.ConstantTimeCompare(pass, []byte(s.Password)) == 1
	if !userOk || !passOk {
		logger.Warn("failed to validate user credentials (invalid username or password)")
		return nil, errors.New("sftpd: invalid credentials")
	}
	return &ssh.Permissions{Extensions: map[string]string{"user": conn.User()}}, nil
}
