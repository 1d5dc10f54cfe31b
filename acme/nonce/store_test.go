package nonce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueConsumeSingleUse(t *testing.T) {
	s := New(0)
	n := s.Issue()
	require.True(t, s.Consume(n), "freshly issued nonce should be consumable")
	require.False(t, s.Consume(n), "a consumed nonce must never be accepted again")
}

func TestConsumeUnknownNonce(t *testing.T) {
	s := New(0)
	require.False(t, s.Consume("never-issued"))
}

func TestEvictionUnderCapacity(t *testing.T) {
	s := New(2)
	first := s.Issue()
	s.Issue()
	s.Issue() // should evict `first`

	require.Equal(t, 2, s.Len())
	require.False(t, s.Consume(first), "oldest nonce should have been evicted")
}

func TestConcurrentIssueConsume(t *testing.T) {
	s := New(0)
	const n = 200
	nonces := make([]string, n)
	for i := range nonces {
		nonces[i] = s.Issue()
	}

	results := make(chan bool, n)
	for _, tok := range nonces {
		go func(tok string) {
			results <- s.Consume(tok)
		}(tok)
	}

	ok := 0
	for i := 0; i < n; i++ {
		if <-results {
			ok++
		}
	}
	require.Equal(t, n, ok)
}
