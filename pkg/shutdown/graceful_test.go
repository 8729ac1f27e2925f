package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClosersRunInReverse(t *testing.T) {
	var c Closers
	var order []string
	errFlush := errors.New("flush failed")

	c.Add(func(context.Context) error { order = append(order, "pool"); return nil })
	c.Add(func(context.Context) error { order = append(order, "writer"); return errFlush })
	c.Add(func(context.Context) error { order = append(order, "http"); return nil })

	err := c.Close(context.Background())
	assert.ErrorIs(t, err, errFlush)
	assert.Equal(t, []string{"http", "writer", "pool"}, order)

	assert.NoError(t, c.Close(context.Background()))
	assert.Len(t, order, 3)
}

func TestWithSignalsCancel(t *testing.T) {
	ctx, cancel := WithSignals(context.Background())
	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
