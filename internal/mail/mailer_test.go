package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMessageHeaders(t *testing.T) {
	t.Parallel()

	msg := string(BuildMessage(
		"collector@example.com",
		"ops@example.com",
		"Rank Job Starting",
		"Starting rank data collection job",
	))

	require.True(t, strings.HasPrefix(msg, "From: collector@example.com\r\n"))
	require.Contains(t, msg, "To: ops@example.com\r\n")
	require.Contains(t, msg, "Subject: Rank Job Starting\r\n")
	require.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")

	// The body follows the blank line separating it from the headers.
	_, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)
	require.Equal(t, "Starting rank data collection job\r\n", body)
}
