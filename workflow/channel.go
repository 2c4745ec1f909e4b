package workflow

// Channel delivers external signals to workflow code in history order.
type Channel interface {
	// Receive blocks the calling coroutine until a signal is available and
	// decodes it into valuePtr. It returns false if ctx was cancelled first.
	Receive(ctx Context, valuePtr any) bool

	// ReceiveAsync decodes a buffered signal into valuePtr if one is
	// available, without blocking.
	ReceiveAsync(valuePtr any) bool
}

// signalChannel buffers signal payloads in event order. The buffer is
// unbounded since signals recorded in history must all be deliverable.
type signalChannel struct {
	env  *executionEnv
	name string
	buf  [][]byte
}

func (c *signalChannel) push(data []byte) {
	c.buf = append(c.buf, data)
}

func (c *signalChannel) Receive(ctx Context, valuePtr any) bool {
	c.env.disp.yieldUntil(func() bool {
		return len(c.buf) > 0 || ctx.Err() != nil
	})
	if len(c.buf) == 0 {
		return false
	}
	return c.ReceiveAsync(valuePtr)
}

func (c *signalChannel) ReceiveAsync(valuePtr any) bool {
	if len(c.buf) == 0 {
		return false
	}
	data := c.buf[0]
	c.buf = c.buf[1:]

	if valuePtr == nil || len(data) == 0 {
		return true
	}
	if err := c.env.dc.FromData(data, valuePtr); err != nil {
		panic(err)
	}
	return true
}
