package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/types"
)

func testNotification() Notification {
	alert := testAlert()
	evt := types.NewTriggeredEvent(alert, 32, time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC), []string{"kafka"})
	evt.ID = "evt-1"
	return Notification{Event: evt, Alert: alert}
}

func TestAppriseChannel_SendServiceURL(t *testing.T) {
	var (
		received map[string]string
		path     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ch := NewAppriseChannel("ops", server.URL+"/", "slack://a/b/c", "", zerolog.Nop())
	if err := ch.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if path != "/notify" {
		t.Errorf("path = %q, want /notify", path)
	}
	if received["urls"] != "slack://a/b/c" {
		t.Errorf("urls = %q", received["urls"])
	}
	if received["title"] == "" || received["body"] == "" {
		t.Error("expected title and body in payload")
	}
}

func TestAppriseChannel_SendConfigKey(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(200)
	}))
	defer server.Close()

	ch := NewAppriseChannel("ops", server.URL, "weather", "oncall", zerolog.Nop())
	if err := ch.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if path != "/notify/weather" {
		t.Errorf("path = %q, want /notify/weather", path)
	}
}

func TestAppriseChannel_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("no services"))
	}))
	defer server.Close()

	ch := NewAppriseChannel("ops", server.URL, "weather", "", zerolog.Nop())
	if err := ch.Send(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestAppriseChannel_Unconfigured(t *testing.T) {
	ch := NewAppriseChannel("ops", "", "weather", "", zerolog.Nop())
	if err := ch.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("unconfigured apprise should log and succeed, got %v", err)
	}
}

func TestBuildKafkaMessage(t *testing.T) {
	msg, err := buildMessage(testNotification())
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if string(msg.Key) != "a1" {
		t.Errorf("key = %q, want alert id", msg.Key)
	}

	var value map[string]any
	if err := json.Unmarshal(msg.Value, &value); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if value["event_id"] != "evt-1" || value["current_value"] != 32.0 || value["units"] != "metric" {
		t.Errorf("unexpected value %v", value)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_id"] != "evt-1" || headers["user_id"] != "u1" {
		t.Errorf("unexpected headers %v", headers)
	}
}

func TestNewKafkaChannelValidation(t *testing.T) {
	if _, err := NewKafkaChannel("kafka", KafkaOptions{Topic: "t"}); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaChannel("kafka", KafkaOptions{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("expected error without topic")
	}
}

func TestKafkaChannel_Send(t *testing.T) {
	if os.Getenv("KAFKA_TEST") != "1" {
		t.Skip("Skipping Kafka integration test (set KAFKA_TEST=1 to run)")
	}

	ch, err := NewKafkaChannel("kafka", KafkaOptions{
		Brokers: []string{"localhost:9092"},
		Topic:   "skywatch-triggered-test",
	})
	if err != nil {
		t.Fatalf("NewKafkaChannel: %v", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ch.Send(ctx, testNotification()); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
