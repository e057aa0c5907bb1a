package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(attempts uint64) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("flaky")

	tests := []struct {
		name      string
		policy    Policy
		failures  int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{"success first try", fastPolicy(3), 0, false, 1, false},
		{"success after retries", fastPolicy(3), 2, false, 3, false},
		{"exhausted", fastPolicy(3), 5, false, 3, true},
		{"permanent stops immediately", fastPolicy(3), 5, true, 1, true},
		{"single attempt", None(), 1, false, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.policy, "test", func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(errFlaky)
					}
					return errFlaky
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errFlaky)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), "test", func() error {
		calls++
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
