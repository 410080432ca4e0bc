package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
)

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"})
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := s.Send(context.Background(), "mod@example.com", "Ticket Assigned", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" {
		t.Errorf("addr = %q from = %q", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "mod@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{`From: "Support Team" <noreply@example.com>`, "Subject: Ticket Assigned", "\r\n\r\nhello"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSMTPSender_propagatesFailure(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{Host: "smtp.example.com", Port: 25})
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 service not available")
	}
	if err := s.Send(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("Send() error = nil, want error")
	}
	if err := s.Send(context.Background(), " ", "s", "b"); err == nil {
		t.Fatal("Send() to blank recipient error = nil, want error")
	}
}

func TestBuildMessage_stripsHeaderNewlines(t *testing.T) {
	msg := string(buildMessage("f@example.com", "t@example.com", "a\r\nBcc: x@example.com", "b", time.Unix(0, 0)))
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("header injection not neutralized:\n%s", msg)
	}
}

func TestNewSender_logOnlyWithoutHost(t *testing.T) {
	s := NewSender(config.MailConfig{}, zap.NewNop())
	if _, ok := s.(*LogSender); !ok {
		t.Fatalf("NewSender() = %T, want *LogSender", s)
	}
	if err := s.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}
