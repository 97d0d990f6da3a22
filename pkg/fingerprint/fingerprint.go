// Package fingerprint produces deterministic identifiers for integration
// messages so duplicate deliveries can be detected.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/zlovtnik/clm-ingest/pkg/models"
)

// ForMessage computes the fingerprint for an integration message. Messages
// carrying an external message id are keyed by (source system, message id);
// otherwise the canonical content hash of the payload is used.
func ForMessage(msg *models.IntegrationMessage) string {
	if msg.MessageID != "" {
		return msg.SourceSystem + ":" + msg.MessageID
	}

	var payload map[string]any
	if len(msg.Payload) > 0 {
		// Invalid JSON hashes as raw bytes; the shape check downstream rejects it.
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			sum := sha256.Sum256(msg.Payload)
			return msg.SourceSystem + ":" + hex.EncodeToString(sum[:])
		}
	}

	canonical := string(msg.EventType) + "|" + msg.TenantID + "|" + canonicalize(payload)
	sum := sha256.Sum256([]byte(canonical))
	return msg.SourceSystem + ":" + hex.EncodeToString(sum[:])
}

// Generate creates a deterministic content hash for a data mapping.
func Generate(data map[string]any) string {
	sum := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(sum[:])
}

// canonicalize creates a deterministic string representation of a value by
// sorting map keys and recursively processing nested structures.
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v)
	case []any:
		return canonicalizeArray(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := "{"
	for i, k := range keys {
		if i > 0 {
			result += ","
		}
		keyJSON, _ := json.Marshal(k)
		result += string(keyJSON) + ":" + canonicalize(m[k])
	}
	result += "}"
	return result
}

func canonicalizeArray(arr []any) string {
	result := "["
	for i, v := range arr {
		if i > 0 {
			result += ","
		}
		result += canonicalize(v)
	}
	result += "]"
	return result
}
