package google

import (
	"encoding/base64"
	"mime"
	"strings"

	"github.com/attache-app/attache/internal/provider"
)

// encodeRFC2047 encodes a header value for non-ASCII characters.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// buildMIME assembles an RFC 2822 plain-text message.
func buildMIME(in *provider.SendMailInput) string {
	var b strings.Builder

	b.WriteString("To: ")
	b.WriteString(in.To)
	b.WriteString("\r\n")

	if len(in.Cc) > 0 {
		b.WriteString("Cc: ")
		b.WriteString(strings.Join(in.Cc, ", "))
		b.WriteString("\r\n")
	}
	if len(in.Bcc) > 0 {
		b.WriteString("Bcc: ")
		b.WriteString(strings.Join(in.Bcc, ", "))
		b.WriteString("\r\n")
	}

	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(in.Subject))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(in.BodyText)

	return b.String()
}

// encodeRawMessage produces the Gmail raw payload: base64url without
// padding. RawURLEncoding emits '-' and '_' and no '=' padding.
func encodeRawMessage(in *provider.SendMailInput) string {
	return base64.RawURLEncoding.EncodeToString([]byte(buildMIME(in)))
}
