package broker

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/Bobsans/vibemq/internal/auth"
	"github.com/Bobsans/vibemq/internal/dispatcher"
	"github.com/Bobsans/vibemq/internal/logging"
	"github.com/Bobsans/vibemq/internal/metrics"
	"github.com/Bobsans/vibemq/internal/protocol"
	"github.com/Bobsans/vibemq/internal/ratelimit"
	"github.com/Bobsans/vibemq/internal/registry"
	"github.com/Bobsans/vibemq/internal/validator"
)

// Config tunes the broker's listener and shutdown behavior.
type Config struct {
	ListenAddr      string
	TLS             *tls.Config // nil disables TLS
	MaxFrameBytes   uint32
	DrainTimeout    time.Duration
}

// Broker owns the TCP listener, the session registry, the queue manager,
// and the rate limiter/authenticator gating every connection and command.
type Broker struct {
	cfg      Config
	registry *registry.Registry
	manager  *Manager
	limiter  *ratelimit.Limiter
	auth     *auth.Authenticator
	metrics  *metrics.Metrics
	dispatch *dispatcher.Dispatcher

	listener net.Listener

	wg       sync.WaitGroup
	stopGauge chan struct{}
	gaugeDone chan struct{}
}

// New creates a Broker ready to Serve. The queue manager must already be
// started by the caller (its lifecycle is independent of any one Broker
// instance so tests can drive it without a live listener).
func New(cfg Config, reg *registry.Registry, mgr *Manager, limiter *ratelimit.Limiter, authenticator *auth.Authenticator, m *metrics.Metrics) *Broker {
	return &Broker{
		cfg:       cfg,
		registry:  reg,
		manager:   mgr,
		limiter:   limiter,
		auth:      authenticator,
		metrics:   m,
		dispatch:  dispatcher.New(),
		stopGauge: make(chan struct{}),
		gaugeDone: make(chan struct{}),
	}
}

// LoadTLSConfig decodes a PKCS#12 bundle (.p12/.pfx) into a *tls.Config
// suitable for Config.TLS. It is exposed standalone so cmd/vibemqd can
// build the config before constructing the Broker.
func LoadTLSConfig(bundlePath, password string) (*tls.Config, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, err
	}

	privateKey, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	for _, ca := range caCerts {
		pool.AddCert(ca)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  privateKey,
			Leaf:        cert,
		}},
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Serve accepts connections until the listener is closed by Shutdown. It
// blocks until the accept loop exits and always returns a non-nil error
// (net.ErrClosed after a clean Shutdown).
func (b *Broker) Serve() error {
	ln, err := listen(b.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if b.cfg.TLS != nil {
		ln = tls.NewListener(ln, b.cfg.TLS)
	}
	b.listener = ln

	go b.gaugeLoop()

	logging.Op().Info("broker listening", "addr", b.cfg.ListenAddr, "tls", b.cfg.TLS != nil)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		addr := conn.RemoteAddr().String()
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		if !b.limiter.AllowConnection(host) {
			b.metrics.RecordConnectionRateLimited()
			_ = conn.Close()
			continue
		}

		b.wg.Add(1)
		go b.handleConn(conn)
	}
}

// Shutdown stops accepting new connections, sends a best-effort Disconnect
// notice to every live session, waits up to Config.DrainTimeout for
// pending acks to clear and in-flight sessions to finish their current
// read, then forcibly closes whatever remains.
func (b *Broker) Shutdown() {
	if b.listener != nil {
		_ = b.listener.Close()
	}

	for _, s := range b.registry.GetAll() {
		s.Send(&protocol.Message{
			Type:    protocol.Disconnect,
			ID:      uuid.NewString(),
			Headers: protocol.Headers{protocol.HeaderReason: "server_shutdown"},
		})
	}

	deadline := time.Now().Add(b.cfg.DrainTimeout)
	b.waitForPendingAcks(deadline)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		logging.Op().Warn("shutdown drain timeout exceeded, forcing session closure")
	}

	b.registry.Dispose()
	close(b.stopGauge)
	<-b.gaugeDone
}

// waitForPendingAcks polls the queue manager's pending-ack count every
// 250ms until it drains to zero or the deadline passes, so sessions
// aren't torn down mid-retry whenever the rest of the drain budget allows
// waiting for them to finish.
func (b *Broker) waitForPendingAcks(deadline time.Time) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for b.manager.PendingAcks() > 0 && time.Now().Before(deadline) {
		<-ticker.C
	}
}

func (b *Broker) handleConn(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()

	codec := protocol.NewCodec(conn, b.cfg.MaxFrameBytes)
	session := registry.NewSession(uuid.NewString(), conn, codec)

	if err := b.registry.Admit(session); err != nil {
		logging.Op().Warn("connection rejected", "reason", err, "remote", session.RemoteAddress)
		session.Close()
		return
	}
	defer b.registry.Remove(session.ID)
	defer b.limiter.ForgetSession(session.ID)

	ctx := &dispatcher.Context{
		Session:  session,
		Registry: b.registry,
		Manager:  b.manager,
		Auth:     b.auth,
	}

	for {
		m, err := codec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Op().Debug("session read error", "session", session.ID, "error", err)
			}
			return
		}
		session.Touch()

		if !b.gate(ctx, m) {
			continue
		}

		if reason := validator.Validate(m); reason != "" {
			session.Send(&protocol.Message{
				Type: protocol.Error, ID: m.ID,
				ErrorCode: dispatcher.CodeInvalidMessage, ErrorMessage: reason,
			})
			continue
		}

		if !b.limiter.AllowMessage(session.ID) {
			b.metrics.RecordMessageRateLimited()
			session.Send(&protocol.Message{
				Type: protocol.Error, ID: m.ID,
				ErrorCode: dispatcher.CodeRateLimited, ErrorMessage: "message rate limit exceeded",
			})
			continue
		}

		b.dispatch.Dispatch(ctx, m)
	}
}

// gate enforces that Connect or Ping must be the first commands processed
// on an unauthenticated session; Ping is the sole command allowed before
// authentication completes. It returns false when the message has already
// been answered with a rejection and should not reach the dispatcher.
func (b *Broker) gate(ctx *dispatcher.Context, m *protocol.Message) bool {
	if ctx.Session.Authenticated() {
		return true
	}
	switch m.Type {
	case protocol.Connect, protocol.Ping:
		return true
	default:
		ctx.Session.Send(&protocol.Message{
			Type: protocol.Error, ID: m.ID,
			ErrorCode: dispatcher.CodeNotAuthenticated, ErrorMessage: "Connect must be the first command",
		})
		return false
	}
}

func (b *Broker) gaugeLoop() {
	defer close(b.gaugeDone)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	b.refreshGauges()
	for {
		select {
		case <-b.stopGauge:
			return
		case <-ticker.C:
			b.refreshGauges()
		}
	}
}

func (b *Broker) refreshGauges() {
	b.metrics.SetActiveConnections(int64(b.registry.Count()))
	b.metrics.SetActiveQueues(int64(b.manager.QueueCount()))
	b.metrics.SetInFlightMessages(int64(b.manager.PendingAcks()))
	admitted, rejected := b.registry.Stats()
	b.metrics.SetConnectionStats(admitted, rejected)
}
