package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPushResult(t *testing.T) {
	okBefore := testutil.ToFloat64(Pushes.WithLabelValues("typing", "ok"))
	dropBefore := testutil.ToFloat64(Pushes.WithLabelValues("typing", "dropped"))

	PushResult("typing", nil)
	PushResult("typing", errors.New("buffer full"))
	PushResult("typing", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(Pushes.WithLabelValues("typing", "ok")))
	assert.Equal(t, dropBefore+1, testutil.ToFloat64(Pushes.WithLabelValues("typing", "dropped")))
}
