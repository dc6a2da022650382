package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/sink"
)

func TestSMTPNotify(t *testing.T) {
	s, err := NewSMTP("", "prof@example.com", "secret", "office@example.com")
	if err != nil {
		t.Fatal(err)
	}

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	alert := sink.Alert{Identity: "alice", DepartedAt: time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)}
	if err := s.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if gotAddr != DefaultSMTPAddr || gotFrom != "prof@example.com" || len(gotTo) != 1 || gotTo[0] != "office@example.com" {
		t.Errorf("Unexpected envelope %s %s %v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Bunk Alert: alice left the class\r\n") {
		t.Errorf("Missing subject in %q", msg)
	}
	if !strings.Contains(msg, "\r\n\r\nalice left the class at 11:30:00") {
		t.Errorf("Missing body in %q", msg)
	}
}

func TestSMTPNotifyError(t *testing.T) {
	s, _ := NewSMTP("mail.local:25", "a@b", "", "c@d")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("535 auth failed") }

	err := s.Notify(context.Background(), sink.Alert{Identity: "bob"})
	if err == nil || !strings.Contains(err.Error(), "535") {
		t.Errorf("Expected wrapped send error, got %v", err)
	}
}

func TestNewSMTPValidation(t *testing.T) {
	if _, err := NewSMTP("", "", "", "x@y"); err == nil {
		t.Error("Expected error without user")
	}
	if _, err := NewSMTP("no-port", "a@b", "", "x@y"); err == nil {
		t.Error("Expected error for address without port")
	}
}

func TestLogNotify(t *testing.T) {
	if err := (Log{}).Notify(context.Background(), sink.Alert{Identity: "alice"}); err != nil {
		t.Errorf("Log notifier must not fail, got %v", err)
	}
}
