package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"strings"
)

// VerifySignature checks the authenticity of a raw webhook body against its
// signature header. The header carries four space-separated tokens:
//
//	v1 <paymentID> <timestamp> <base64 signature>
//
// The signature is HMAC-SHA256 over "paymentID.timestamp.body" where body is
// the canonical re-serialization of the JSON payload (first element if the
// payload is an array). Verification must run on the canonical form, not the
// raw bytes: the provider and this server do not agree on whitespace.
//
// The function is pure; any parse failure or missing secret yields false,
// never a panic.
func VerifySignature(secret, header string, body []byte) bool {
	if secret == "" {
		log.Printf("Signature verification skipped check impossible: no secret key configured")
		return false
	}

	parts := strings.Fields(header)
	if len(parts) != 4 || parts[0] != "v1" {
		log.Printf("Invalid signature header format: %q", header)
		return false
	}
	paymentID, timestamp, signature := parts[1], parts[2], parts[3]

	canonical, ok := canonicalBody(body)
	if !ok {
		return false
	}

	stringToSign := paymentID + "." + timestamp + "." + canonical

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	calculated := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(calculated), []byte(signature))
}

// canonicalBody re-serializes the JSON body into a stable form. Unmarshalling
// into interface{} and marshalling back sorts object keys, so two payloads
// that differ only in whitespace or field order canonicalize identically.
func canonicalBody(body []byte) (string, bool) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		log.Printf("Failed to parse webhook body for signing: %v", err)
		return "", false
	}

	if arr, ok := raw.([]interface{}); ok {
		if len(arr) == 0 {
			log.Printf("Webhook body is an empty array")
			return "", false
		}
		raw = arr[0]
	}

	canonical, err := json.Marshal(raw)
	if err != nil {
		log.Printf("Failed to canonicalize webhook body: %v", err)
		return "", false
	}
	return string(canonical), true
}
