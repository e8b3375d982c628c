package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

// SMTPNotifier sends HTML mail over SMTP with STARTTLS when offered.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSMTPNotifier(cfg config.EmailConfig, logger *zap.Logger) *SMTPNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.From,
		fromName: cfg.FromName,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, htmlBody string) Result {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	if err := n.deliver(ctx, to, n.buildMessage(to, subject, htmlBody)); err != nil {
		n.logger.Warn("SMTP delivery failed",
			util.Email("to", to),
			util.String("subject", subject),
			util.ErrorField(err),
		)
		return failed(err)
	}

	n.logger.Info("Email sent",
		util.Email("to", to),
		util.String("subject", subject),
		util.Duration("duration", time.Since(start)),
	)
	return ok()
}

func (n *SMTPNotifier) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if n.username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.username, n.password, n.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(n.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

func (n *SMTPNotifier) buildMessage(to, subject, htmlBody string) []byte {
	var b bytes.Buffer
	from := n.from
	if n.fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", n.fromName), n.from)
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(htmlBody))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	return b.Bytes()
}
