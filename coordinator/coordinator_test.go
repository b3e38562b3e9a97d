package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/folionet/foliod/fetchers"
)

func TestFailoverToSecondary(t *testing.T) {
	c := New()
	var result string
	err := c.Run(context.Background(), "bitcoin", []Attempt{{
		Name: "primary",
		Fn: func(context.Context) error {
			return &fetchers.NetworkError{Err: errors.New("connection refused")}
		},
	}, {
		Name: "secondary",
		Fn: func(context.Context) error {
			result = "data from secondary"
			return nil
		},
	}})
	require.NoError(t, err)
	require.Equal(t, "data from secondary", result)
}

func TestAllProvidersFail(t *testing.T) {
	c := New()
	err := c.Run(context.Background(), "bitcoin", []Attempt{{
		Name: "blockchain.info",
		Fn: func(context.Context) error {
			return &fetchers.NetworkError{Err: errors.New("timeout")}
		},
	}, {
		Name: "blockstream.info",
		Fn: func(context.Context) error {
			return &fetchers.BadResponseError{Err: errors.New("unexpected schema")}
		},
	}})
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Len(t, remoteErr.Failures, 2)
	require.Contains(t, err.Error(), "blockchain.info")
	require.Contains(t, err.Error(), "blockstream.info")
}

func TestUnsupportedOperationSkipped(t *testing.T) {
	c := New()
	called := false
	err := c.Run(context.Background(), "bitcoin", []Attempt{{
		Name: "blockstream.info",
		Fn:   nil, // provider doesn't support this operation
	}, {
		Name: "blockcypher.com",
		Fn: func(context.Context) error {
			called = true
			return nil
		},
	}})
	require.NoError(t, err)
	require.True(t, called)
}

func TestRateLimitedRetriesSameProvider(t *testing.T) {
	c := New()
	calls := 0
	err := c.Run(context.Background(), "bitcoin", []Attempt{{
		Name: "blockchain.info",
		Fn: func(context.Context) error {
			calls++
			if calls == 1 {
				return &fetchers.RateLimitedError{RetryAfter: time.Millisecond}
			}
			return nil
		},
	}})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRepeatedRateLimitQuarantines(t *testing.T) {
	c := New()
	attempt := Attempt{
		Name: "blockchain.info",
		Fn: func(context.Context) error {
			return &fetchers.RateLimitedError{RetryAfter: time.Millisecond}
		},
	}
	err := c.Run(context.Background(), "bitcoin", []Attempt{attempt})
	require.Error(t, err)

	// The provider rate limited twice within the window, so the next run
	// must skip it without calling it.
	calls := 0
	err = c.Run(context.Background(), "bitcoin", []Attempt{{
		Name: "blockchain.info",
		Fn: func(context.Context) error {
			calls++
			return nil
		},
	}})
	require.Error(t, err)
	require.Zero(t, calls)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Contains(t, remoteErr.Failures[0].Reason, "quarantined")
}

func TestCancellationAborts(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Run(ctx, "bitcoin", []Attempt{{
		Name: "primary",
		Fn: func(ctx context.Context) error {
			return ctx.Err()
		},
	}, {
		Name: "secondary",
		Fn: func(context.Context) error {
			t.Fatal("the secondary must not be tried after cancellation")
			return nil
		},
	}})
	require.ErrorIs(t, err, context.Canceled)
}
