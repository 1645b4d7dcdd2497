package middleware

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

// MaxUploadBytes is the largest video the relay accepts (100 MiB).
const MaxUploadBytes int64 = 100 << 20

var (
	fileNamePattern = regexp.MustCompile(`^files/[a-z0-9-]{1,64}$`)
	mimePattern     = regexp.MustCompile(`^video/[a-z0-9][a-z0-9.+-]{0,63}$`)
)

// ValidateMIMEType accepts video/* types; empty means the default video/mp4.
func ValidateMIMEType(mimeType string) error {
	if mimeType == "" {
		return nil
	}
	if !mimePattern.MatchString(strings.ToLower(mimeType)) {
		return fmt.Errorf("invalid mimeType: %s (video/* only)", mimeType)
	}
	return nil
}

// ValidateNumBytes checks the declared upload size.
func ValidateNumBytes(n int64) error {
	if n <= 0 {
		return fmt.Errorf("numBytes must be positive")
	}
	if n > MaxUploadBytes {
		return fmt.Errorf("numBytes %d exceeds the %d MB limit", n, MaxUploadBytes>>20)
	}
	return nil
}

// ValidateFileName checks an upstream resource name such as files/abc-123.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("fileName cannot be empty")
	}
	if !fileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid fileName format")
	}
	return nil
}

// ValidateResultID accepts only the uuids produced by save_result.
func ValidateResultID(id string) error {
	if id == "" {
		return fmt.Errorf("Missing id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid id format")
	}
	return nil
}

// ValidateUploadURL only lets uploads through to the configured upstream:
// the target must share scheme and host with base.
func ValidateUploadURL(rawURL string, base *url.URL) error {
	if rawURL == "" {
		return fmt.Errorf("Missing X-Upload-Url header")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid upload URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid upload URL scheme: %s (allowed: http, https)", u.Scheme)
	}
	if base == nil || !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return fmt.Errorf("upload URL host %s is not the configured upstream", u.Host)
	}
	if u.User != nil {
		return fmt.Errorf("upload URL must not carry credentials")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// SanitizeDisplayName cleans a client-provided file name for upstream
// metadata, capped at 128 runes.
func SanitizeDisplayName(name string) string {
	name = SanitizeString(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if r := []rune(name); len(r) > 128 {
		name = string(r[:128])
	}
	return name
}
