package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every relay topic when none is configured.
const DefaultTopicPrefix = "rpcqueue"

// Topics provides builders for relay MQTT topics under one prefix.
//
//	topics := mqtt.NewTopics("rpcqueue")
//	topics.Ingest("3f9a")  // "rpcqueue/ingest/3f9a"
//	topics.Forward("3f9a") // "rpcqueue/forward/3f9a"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Surrounding slashes are
// trimmed; an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.prefix
}

// Ingest returns the topic producers publish a run's batches to.
//
// Example: rpcqueue/ingest/3f9a
func (t Topics) Ingest(run string) string {
	return fmt.Sprintf("%s/ingest/%s", t.prefix, run)
}

// AllIngest returns the wildcard matching every run's ingest topic.
//
// Example: rpcqueue/ingest/+
func (t Topics) AllIngest() string {
	return fmt.Sprintf("%s/ingest/+", t.prefix)
}

// Forward returns the topic the forward sink republishes a run's batches to.
//
// Example: rpcqueue/forward/3f9a
func (t Topics) Forward(run string) string {
	return fmt.Sprintf("%s/forward/%s", t.prefix, run)
}

// Status returns the retained online/offline topic of a relay instance.
//
// Example: rpcqueue/status/edge-7
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix, clientID)
}

// RunFromIngest extracts the run from an ingest topic. It reports false for
// topics outside {prefix}/ingest/ or without a run segment.
func (t Topics) RunFromIngest(topic string) (string, bool) {
	run, ok := strings.CutPrefix(topic, t.prefix+"/ingest/")
	if !ok || run == "" || strings.Contains(run, "/") {
		return "", false
	}
	return run, true
}
