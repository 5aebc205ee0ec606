package outreach

import (
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/leadgen-pipeline/internal/config"
)

// newMessageID builds a Message-ID anchored to the sending channel's host.
func newMessageID(channel config.SMTPChannel) string {
	host := channel.Host
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), host)
}

// formatFrom renders the From header, RFC 2047-encoding the display name
// when present.
func formatFrom(channel config.SMTPChannel) string {
	address := channel.FromAddress()
	if channel.FromName == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", channel.FromName), address)
}

// buildMessage assembles a plain-text RFC 5322 message.
func buildMessage(channel config.SMTPChannel, to, subject, body, replyTo, messageID string) []byte {
	var b strings.Builder
	b.WriteString("From: " + formatFrom(channel) + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	if replyTo != "" {
		b.WriteString("Reply-To: " + replyTo + "\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
