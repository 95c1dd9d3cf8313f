package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/crypto/ssh"

	"github.com/newtron-network/eline/pkg/util"
)

// TunnelConfig describes an SSH hop to a Redis bound to the controller's loopback.
type TunnelConfig struct {
	Host       string
	Port       int    // default 22
	User       string
	Password   string
	RemoteAddr string // default 127.0.0.1:6379
	Timeout    time.Duration
}

// SSHTunnel serves a loopback port whose connections are carried over one
// SSH session to RemoteAddr on the controller.
type SSHTunnel struct {
	localAddr  string
	remoteAddr string
	ssh        *ssh.Client
	listener   net.Listener
	wg         sync.WaitGroup
}

// NewSSHTunnel dials SSH with exponential backoff until cfg.Timeout runs
// out, then starts forwarding from a random loopback port.
func NewSSHTunnel(ctx context.Context, cfg TunnelConfig) (*SSHTunnel, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RemoteAddr == "" {
		cfg.RemoteAddr = "127.0.0.1:6379"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{ssh.Password(cfg.Password)},
		// Controllers in the lab rotate host keys on rebuild.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	target := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	log := util.WithField("ssh", target)

	client, err := backoff.Retry(ctx,
		func() (*ssh.Client, error) { return ssh.Dial("tcp", target, clientConfig) },
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.Timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warnf("dial failed, next attempt in %s: %v", next.Round(time.Millisecond), err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", target, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening tunnel listener: %w", err)
	}

	t := &SSHTunnel{
		localAddr:  listener.Addr().String(),
		remoteAddr: cfg.RemoteAddr,
		ssh:        client,
		listener:   listener,
	}
	t.wg.Add(1)
	go t.serve()

	log.Infof("tunnel %s -> %s open", t.localAddr, t.remoteAddr)
	return t, nil
}

// LocalAddr is the loopback address to hand to the Redis client.
func (t *SSHTunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops accepting, drops the SSH session and waits for open
// forwards to unwind.
func (t *SSHTunnel) Close() error {
	t.listener.Close()
	err := t.ssh.Close()
	t.wg.Wait()
	return err
}

func (t *SSHTunnel) serve() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			util.Debugf("tunnel accept: %v", err)
			continue
		}
		t.wg.Add(1)
		go t.forward(conn)
	}
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()
	remote, err := t.ssh.Dial("tcp", t.remoteAddr)
	if err != nil {
		local.Close()
		util.Debugf("tunnel dial %s: %v", t.remoteAddr, err)
		return
	}

	// Either side finishing tears down both.
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			local.Close()
			remote.Close()
		})
	}
	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() { defer pipes.Done(); io.Copy(remote, local); closeBoth() }()
	go func() { defer pipes.Done(); io.Copy(local, remote); closeBoth() }()
	pipes.Wait()
}
