// Package sshtest provides an in-process SSH server that answers exec
// requests and serves an in-memory sftp subsystem, for tests of code that
// runs remote commands or transfers files.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Result is what the server sends back for one command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Handler answers a command
type Handler func(command string) Result

// Server is a running test server
type Server struct {
	User     string
	Password string
	Host     string
	Port     int

	mu       sync.Mutex
	commands []string
	listener net.Listener
	files    sftp.Handlers
}

// NewServer starts a server on 127.0.0.1 that accepts user "tester" with
// password "secret". It is closed when the test ends.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	s := &Server{User: "tester", Password: "secret", files: sftp.InMemHandler()}
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			return nil, ssh.ErrNoAuth
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.listener = ln
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	s.Host = host
	s.Port, _ = strconv.Atoi(port)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, config, handler)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

// Commands returns every command received so far
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) serve(conn net.Conn, config *ssh.ServerConfig, handler Handler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests, handler)
	}
}

func (s *Server) session(ch ssh.Channel, requests <-chan *ssh.Request, handler Handler) {
	defer ch.Close()
	for req := range requests {
		if req.Type == "subsystem" {
			s.subsystem(ch, req, requests)
			return
		}
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		res := handler(payload.Command)
		_, _ = ch.Write([]byte(res.Stdout))
		_, _ = ch.Stderr().Write([]byte(res.Stderr))

		status := make([]byte, 4)
		binary.BigEndian.PutUint32(status, uint32(res.ExitCode))
		_, _ = ch.SendRequest("exit-status", false, status)
		return
	}
}

func (s *Server) subsystem(ch ssh.Channel, req *ssh.Request, requests <-chan *ssh.Request) {
	var payload struct{ Name string }
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
		_ = req.Reply(false, nil)
		return
	}
	_ = req.Reply(true, nil)
	go ssh.DiscardRequests(requests)

	server := sftp.NewRequestServer(ch, s.files)
	_ = server.Serve()
	_ = server.Close()
}
