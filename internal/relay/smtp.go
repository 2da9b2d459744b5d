package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
)

// TLS modes for the SMTP relay
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// SMTPConfig configures the SMTP relay pool
type SMTPConfig struct {
	Host               string
	Port               int
	TLS                string
	InsecureSkipVerify bool
	Username           string
	Password           string
	// Hostname is announced in EHLO
	Hostname                 string
	Timeout                  time.Duration
	MaxConnections           int
	MaxMessagesPerConnection int
}

// SMTPRelay delivers through an authenticated SMTP submission server using a
// bounded pool of persistent connections
type SMTPRelay struct {
	cfg    SMTPConfig
	logger *slog.Logger

	// sem caps connections in use; idle holds connections ready for reuse
	sem  chan struct{}
	idle chan *pooledConn

	mu     sync.Mutex
	closed bool
}

type pooledConn struct {
	client *smtp.Client
	sent   int
}

// NewSMTPRelay creates the relay. No connection is opened until the first send.
func NewSMTPRelay(cfg SMTPConfig, logger *slog.Logger) *SMTPRelay {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 5
	}
	if cfg.MaxMessagesPerConnection <= 0 {
		cfg.MaxMessagesPerConnection = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	r := &SMTPRelay{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxConnections),
		idle:   make(chan *pooledConn, cfg.MaxConnections),
	}
	return r
}

// Name implements Relay
func (r *SMTPRelay) Name() string { return "smtp" }

// Limits implements Relay
func (r *SMTPRelay) Limits() Limits {
	return Limits{
		MaxConnections:           r.cfg.MaxConnections,
		MaxMessagesPerConnection: r.cfg.MaxMessagesPerConnection,
	}
}

// Validate implements Relay
func (r *SMTPRelay) Validate() error {
	if r.cfg.Host == "" {
		return errors.New("smtp host is required")
	}
	if r.cfg.Port <= 0 || r.cfg.Port > 65535 {
		return fmt.Errorf("invalid smtp port %d", r.cfg.Port)
	}
	switch r.cfg.TLS {
	case TLSNone, TLSStartTLS, TLSImplicit:
	default:
		return fmt.Errorf("invalid smtp tls mode %q", r.cfg.TLS)
	}
	if r.cfg.Username != "" && r.cfg.Password == "" {
		return errors.New("smtp password is required when username is set")
	}
	return nil
}

// Verify implements Relay by opening (or reusing) a connection and issuing NOOP
func (r *SMTPRelay) Verify(ctx context.Context) error {
	pc, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	if err := pc.client.Noop(); err != nil {
		return r.finish(pc, categorizeErrorKeep(err, "NOOP"))
	}
	return r.finish(pc, nil)
}

// Send implements Relay
func (r *SMTPRelay) Send(ctx context.Context, msg *Message) error {
	pc, err := r.acquire(ctx)
	if err != nil {
		return err
	}

	if err := r.finish(pc, r.deliver(pc, msg)); err != nil {
		return err
	}

	r.logger.Debug("message relayed",
		"newsletter_id", msg.NewsletterID,
		"recipient_id", msg.RecipientID,
	)
	return nil
}

// Close quits idle connections. Busy connections are closed when released.
func (r *SMTPRelay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for {
		select {
		case pc := <-r.idle:
			r.retire(pc, false)
		default:
			return nil
		}
	}
}

func (r *SMTPRelay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *SMTPRelay) acquire(ctx context.Context) (*pooledConn, error) {
	if r.isClosed() {
		return nil, &DeliveryError{Temporary: true, Message: "smtp relay is closed"}
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &DeliveryError{Temporary: true, Message: fmt.Sprintf("waiting for smtp connection: %v", ctx.Err())}
	}

	select {
	case pc := <-r.idle:
		return pc, nil
	default:
	}

	pc, err := r.dial(ctx)
	if err != nil {
		<-r.sem
		return nil, err
	}
	return pc, nil
}

// release hands the connection back to the pool, or retires it when it is
// broken, exhausted or the pool is closed
func (r *SMTPRelay) release(pc *pooledConn, broken bool) {
	defer func() { <-r.sem }()

	if broken || r.isClosed() || pc.sent >= r.cfg.MaxMessagesPerConnection {
		r.retire(pc, broken)
		return
	}
	select {
	case r.idle <- pc:
	default:
		r.retire(pc, false)
	}
}

func (r *SMTPRelay) retire(pc *pooledConn, broken bool) {
	if !broken {
		if err := pc.client.Quit(); err != nil {
			r.logger.Debug("smtp QUIT failed", "error", err)
		}
	}
	pc.client.Close()
	metrics.DecRelayConnectionsActive()
}

func (r *SMTPRelay) dial(ctx context.Context) (*pooledConn, error) {
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         r.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: r.cfg.InsecureSkipVerify,
	}
	dialer := &net.Dialer{Timeout: r.cfg.Timeout}

	var conn net.Conn
	var err error
	if r.cfg.TLS == TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}

	var c *smtp.Client
	if r.cfg.TLS == TLSStartTLS {
		// EHLO and STARTTLS happen here; EHLO is repeated below over TLS
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, categorizeError(err, "STARTTLS")
		}
	} else {
		c = smtp.NewClient(conn)
	}
	c.CommandTimeout = r.cfg.Timeout
	c.SubmissionTimeout = r.cfg.Timeout

	if err := c.Hello(r.cfg.Hostname); err != nil {
		c.Close()
		return nil, categorizeError(err, "EHLO")
	}

	if r.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)); err != nil {
			c.Close()
			return nil, categorizeError(err, "AUTH")
		}
	}

	metrics.IncRelayConnections(r.Name())
	r.logger.Debug("smtp connection opened", "addr", addr)
	return &pooledConn{client: c}, nil
}

func (r *SMTPRelay) deliver(pc *pooledConn, msg *Message) error {
	c := pc.client
	if pc.sent > 0 {
		if err := c.Reset(); err != nil {
			return categorizeErrorKeep(err, "RSET")
		}
	}
	pc.sent++

	if err := c.Mail(msg.From, nil); err != nil {
		return categorizeErrorKeep(err, "MAIL FROM")
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return categorizeErrorKeep(err, fmt.Sprintf("RCPT TO %s", msg.To))
	}

	w, err := c.Data()
	if err != nil {
		return categorizeErrorKeep(err, "DATA")
	}
	if _, err := w.Write(msg.Data); err != nil {
		w.Close()
		return &brokenError{&DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}}
	}
	if err := w.Close(); err != nil {
		return categorizeErrorKeep(err, "DATA close")
	}
	return nil
}

// brokenError marks a failure after which the connection must not be reused
type brokenError struct {
	*DeliveryError
}

func (e *brokenError) Unwrap() error { return e.DeliveryError }

// categorizeErrorKeep categorizes err and marks the connection broken unless
// the server answered with a reply that leaves the session usable
func categorizeErrorKeep(err error, stage string) error {
	de := categorizeError(err, stage)
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code != 421 {
		return de
	}
	return &brokenError{de}
}

// finish releases pc according to err and returns err without the broken marker
func (r *SMTPRelay) finish(pc *pooledConn, err error) error {
	var be *brokenError
	if errors.As(err, &be) {
		r.release(pc, true)
		return be.DeliveryError
	}
	r.release(pc, false)
	return err
}
