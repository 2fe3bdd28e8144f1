package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
		kind Kind
	}{
		{"validation", Validation("split", "start must be >= 1"), http.StatusBadRequest, KindValidation},
		{"processing", Processing("merge", "merge failed", cause), http.StatusUnprocessableEntity, KindProcessing},
		{"io", IO("merge", "write failed", cause), http.StatusInternalServerError, KindIO},
		{"environment", Environment("rasterize", "mutool missing", cause), http.StatusServiceUnavailable, KindEnvironment},
		{"wrapped", fmt.Errorf("handler: %w", Validationf("split", "end %d > %d", 9, 3)), http.StatusBadRequest, KindValidation},
		{"plain", cause, http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("store: %w", IO("compress", "write artifact", cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write artifact", Message(err))
	assert.Equal(t, "internal error", Message(cause))
	assert.Contains(t, err.Error(), "compress: io: write artifact: disk full")
}
