package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/solace-be/internal/config"
)

// SMTPGateway sends mail through an SMTP relay. Each Send opens its own
// connection, bound to the caller's context.
type SMTPGateway struct {
	cfg config.MailConfig
	now func() time.Time
}

// NewSMTPGateway returns a gateway for the relay described by cfg.
func NewSMTPGateway(cfg config.MailConfig) *SMTPGateway {
	return &SMTPGateway{cfg: cfg, now: time.Now}
}

// Send delivers one HTML message. Any failure, including ctx expiring
// mid-conversation, is reported as ErrDeliveryFailed.
func (g *SMTPGateway) Send(ctx context.Context, to, subject, bodyHTML string) error {
	if err := g.send(ctx, to, subject, bodyHTML); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (g *SMTPGateway) send(ctx context.Context, to, subject, bodyHTML string) error {
	from := mail.Address{Name: g.cfg.FromName, Address: g.cfg.From}
	msg, err := buildMessage(from, to, subject, bodyHTML, g.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port))
	conn, err := g.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("setting deadline: %w", err)
		}
	}
	// Unblock any pending read or write as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, g.cfg.Host)
	if err != nil {
		return withContext(ctx, fmt.Errorf("creating smtp client: %w", err))
	}
	defer client.Close()

	if g.cfg.Encryption == "starttls" {
		if err := client.StartTLS(g.tlsConfig()); err != nil {
			return withContext(ctx, fmt.Errorf("starting TLS: %w", err))
		}
	}
	if g.cfg.Username != "" {
		auth := smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return withContext(ctx, fmt.Errorf("authenticating: %w", err))
		}
	}

	if err := client.Mail(from.Address); err != nil {
		return withContext(ctx, fmt.Errorf("MAIL FROM: %w", err))
	}
	if err := client.Rcpt(to); err != nil {
		return withContext(ctx, fmt.Errorf("RCPT TO: %w", err))
	}
	w, err := client.Data()
	if err != nil {
		return withContext(ctx, fmt.Errorf("DATA: %w", err))
	}
	if _, err := w.Write(msg); err != nil {
		return withContext(ctx, fmt.Errorf("writing message: %w", err))
	}
	if err := w.Close(); err != nil {
		return withContext(ctx, fmt.Errorf("closing data: %w", err))
	}
	return withContext(ctx, client.Quit())
}

func (g *SMTPGateway) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	if g.cfg.Encryption == "ssl" {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: g.tlsConfig()}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (g *SMTPGateway) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: g.cfg.Host, MinVersion: tls.VersionTLS12}
}

// withContext prefers the context error when ctx ending caused err.
func withContext(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}

// buildMessage renders an RFC 5322 message with a quoted-printable HTML body.
func buildMessage(from mail.Address, to, subject, bodyHTML string, now time.Time) ([]byte, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	domain := "localhost"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(bodyHTML)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
