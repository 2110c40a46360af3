package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// Canonical returns the JSON encoding of input with object keys sorted at
// every depth and HTML characters left unescaped.
func Canonical(input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal cache input: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("normalize cache input: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return "", fmt.Errorf("encode cache input: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// rollingHash is the 31-multiplier string hash over UTF-16 code units,
// wrapped to a signed 32-bit integer.
func rollingHash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return h
}

// DeriveKey builds "{service}_{endpoint}_{abs(hash)}" for the canonical form of input.
// The hash space is 32 bits; see Fingerprint for the collision guard.
func DeriveKey(input any, service, endpoint string) (string, error) {
	payload, err := keyPayload(input, service, endpoint)
	if err != nil {
		return "", err
	}
	return formatKey(service, endpoint, payload), nil
}

// Fingerprint is the SHA-256 of the same payload DeriveKey hashes.
func Fingerprint(input any, service, endpoint string) (string, error) {
	payload, err := keyPayload(input, service, endpoint)
	if err != nil {
		return "", err
	}
	return fingerprint(payload), nil
}

func keyPayload(input any, service, endpoint string) (string, error) {
	canonical, err := Canonical(input)
	if err != nil {
		return "", err
	}
	return service + ":" + endpoint + ":" + canonical, nil
}

func formatKey(service, endpoint, payload string) string {
	h := int64(rollingHash(payload))
	if h < 0 {
		h = -h
	}
	return fmt.Sprintf("%s_%s_%d", service, endpoint, h)
}

func fingerprint(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%x", sum)
}
