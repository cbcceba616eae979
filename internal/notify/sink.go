// Package notify доставляет уведомления продавцам и оператору вне пути обработки запроса.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message — одно уведомление. Если To пуст, адрес определяется по UserID через Directory.
type Message struct {
	ID        string
	UserID    int64
	To        string
	Subject   string
	Body      string
	CreatedAt time.Time
}

// Sink отправляет уведомление получателю.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// LogSink записывает уведомления в журнал вместо отправки.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт sink, пишущий уведомления в журнал.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send записывает уведомление в журнал.
func (s *LogSink) Send(ctx context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("id", msg.ID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// SMTPConfig содержит параметры почтового сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSink отправляет уведомления письмами.
type SMTPSink struct {
	cfg  SMTPConfig
	addr string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink создаёт sink, отправляющий письма через указанный SMTP-сервер.
func NewSMTPSink(cfg SMTPConfig) *SMTPSink {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		cfg.From = "no-reply@example.com"
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPSink{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth: auth,
		send: smtp.SendMail,
	}
}

// Send отправляет письмо. Отмена контекста проверяется только до начала отправки.
func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("send mail: empty recipient")
	}

	if err := s.send(s.addr, s.auth, s.cfg.From, []string{msg.To}, buildMail(s.cfg.From, msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMail(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	if msg.ID != "" {
		b.WriteString("Message-ID: <" + msg.ID + "@marketplace>\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
