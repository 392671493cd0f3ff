package trade

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limit sentinel", ErrRateLimit, KindRateLimit},
		{"wrapped rate limit", fmt.Errorf("venue: %w", ErrRateLimit), KindRateLimit},
		{"no route", fmt.Errorf("quote: %w", ErrNoRoute), KindNoRoute},
		{"no balance", fmt.Errorf("sell: %w", ErrNoBalance), KindNoBalance},
		{"raw 429 text", errors.New("HTTP 429 too many requests"), KindRateLimit},
		{"anything else", errors.New("connection reset"), KindTransient},
		{"nil", nil, KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "rate_limit", KindRateLimit.String())
	assert.Equal(t, "no_route", KindNoRoute.String())
	assert.Equal(t, "no_balance", KindNoBalance.String())
	assert.Equal(t, "transient", KindTransient.String())
}
