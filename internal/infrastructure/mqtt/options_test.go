package mqtt

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("rpcqueue-opts")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "relay"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "rpcqueue-opts" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "relay" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig("edge-7"))
	configureLWT(opts, NewTopics("rpcqueue"), "edge-7")

	if !opts.WillEnabled {
		t.Fatal("will not enabled")
	}
	if opts.WillTopic != "rpcqueue/status/edge-7" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained/qos = %v/%d, want true/1", opts.WillRetained, opts.WillQos)
	}

	var status map[string]string
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status["status"] != "offline" || status["reason"] != "unexpected_disconnect" {
		t.Errorf("will payload = %v", status)
	}
}

func TestStatusPayload(t *testing.T) {
	var status map[string]string
	if err := json.Unmarshal([]byte(statusPayload("edge-7", "online", "")), &status); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if status["status"] != "online" || status["client_id"] != "edge-7" {
		t.Errorf("payload = %v", status)
	}
	if _, ok := status["reason"]; ok {
		t.Error("empty reason was not omitted")
	}
	if _, err := time.Parse(time.RFC3339, status["timestamp"]); err != nil {
		t.Errorf("timestamp %q: %v", status["timestamp"], err)
	}
}
