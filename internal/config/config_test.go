package config

import (
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	t.Setenv("QUEUE_TRANSPORT", "")
	t.Setenv("WORKFLOW_MAX_RETRIES", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Queue.Transport != QueueTransportMemory {
		t.Errorf("Queue.Transport = %q, want memory", cfg.Queue.Transport)
	}
	if cfg.Workflow.MaxRetries != 2 {
		t.Errorf("Workflow.MaxRetries = %d, want 2", cfg.Workflow.MaxRetries)
	}
	if cfg.App.Port != "8080" {
		t.Errorf("App.Port = %q, want 8080", cfg.App.Port)
	}
	if cfg.Classifier.Timeout() != 30*time.Second {
		t.Errorf("Classifier.Timeout() = %v, want 30s", cfg.Classifier.Timeout())
	}
}

func TestLoad_overrides(t *testing.T) {
	t.Setenv("QUEUE_TRANSPORT", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WORKFLOW_RETRY_BACKOFF_MS", "250")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("AUTH_BOOTSTRAP_ADMIN_EMAIL", "root@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Queue.Transport != QueueTransportRedis {
		t.Errorf("Queue.Transport = %q, want redis", cfg.Queue.Transport)
	}
	if cfg.Workflow.RetryBackoff() != 250*time.Millisecond {
		t.Errorf("RetryBackoff() = %v", cfg.Workflow.RetryBackoff())
	}
	if cfg.Mail.Addr() != "smtp.example.com:2525" {
		t.Errorf("Mail.Addr() = %q", cfg.Mail.Addr())
	}
	if cfg.Auth.BootstrapAdminEmail != "root@example.com" {
		t.Errorf("Auth.BootstrapAdminEmail = %q", cfg.Auth.BootstrapAdminEmail)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown transport", map[string]string{"QUEUE_TRANSPORT": "kafka"}},
		{"redis without addr", map[string]string{"QUEUE_TRANSPORT": "redis", "REDIS_ADDR": ""}},
		{"bad redis db", map[string]string{"REDIS_DB": "one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load() error = nil, want error")
			}
		})
	}
}
