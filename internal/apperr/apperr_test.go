package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"plain", base, Unknown},
		{"direct", Wrap(Provider, "generate", base), Provider},
		{"wrapped by fmt", fmt.Errorf("outer: %w", Wrap(Validation, "parse", base)), Validation},
		{"new", New(Configuration, "llm", "missing key"), Configuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(Provider, "op", nil))
}

func TestErrorMessage(t *testing.T) {
	err := Errorf(InvalidSchedule, "schedule", "bad expression %q", "* *")
	assert.Equal(t, `schedule: bad expression "* *"`, err.Error())
	assert.True(t, Is(err, InvalidSchedule))
	assert.False(t, Is(err, Provider))

	base := errors.New("root")
	assert.ErrorIs(t, Wrap(Provider, "op", base), base)
}
