package access

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	g := NewGenerator("", 0)
	g.now = func() time.Time { return now }

	link, expires, err := g.Issue()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, DefaultBaseURL))
	assert.Len(t, strings.TrimPrefix(link, DefaultBaseURL), 43)
	assert.Equal(t, now.Add(30*24*time.Hour), expires)

	other, _, err := g.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, link, other)
}

func TestIssueCustomBase(t *testing.T) {
	g := NewGenerator("https://t.me/joinchat/VIP_", time.Hour)
	link, _, err := g.Issue()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://t.me/joinchat/VIP_"))
	assert.Equal(t, time.Hour, g.TTL())
}
