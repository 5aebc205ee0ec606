package outreach

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/config"
)

// Transport delivers a raw message through one SMTP channel.
type Transport interface {
	Send(ctx context.Context, channel config.SMTPChannel, from, to string, msg []byte) error
}

// AuthError marks an SMTP authentication failure. Delivery does not fall
// back to another channel on auth errors.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("smtp auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// SMTPTransport sends mail with net/smtp, using implicit TLS or STARTTLS
// per channel and authenticating only when credentials are configured.
type SMTPTransport struct {
	timeout time.Duration
}

// NewSMTPTransport returns a transport with the given dial/send timeout.
func NewSMTPTransport(timeout time.Duration) *SMTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPTransport{timeout: timeout}
}

// Send performs the SMTP transaction.
func (t *SMTPTransport) Send(ctx context.Context, channel config.SMTPChannel, from, to string, msg []byte) error {
	port := channel.Port
	if port == 0 {
		if channel.UseSSL {
			port = 465
		} else {
			port = 587
		}
	}
	addr := net.JoinHostPort(channel.Host, fmt.Sprintf("%d", port))

	client, err := t.connect(ctx, addr, channel)
	if err != nil {
		return err
	}
	defer client.Close()

	if channel.Username != "" && channel.Password != "" {
		auth := smtp.PlainAuth("", channel.Username, channel.Password, channel.Host)
		if err := client.Auth(auth); err != nil {
			return &AuthError{Err: err}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

func (t *SMTPTransport) connect(ctx context.Context, addr string, channel config.SMTPChannel) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: t.timeout}

	var (
		conn net.Conn
		err  error
	)
	if channel.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: channel.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	conn.SetDeadline(time.Now().Add(t.timeout))

	client, err := smtp.NewClient(conn, channel.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client: %w", err)
	}

	if !channel.UseSSL && channel.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: channel.Host}); err != nil {
				client.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	return client, nil
}
