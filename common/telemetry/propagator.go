package telemetry

import "github.com/nats-io/nats.go"

// NatsMsgCarrier adapts NATS message headers to an OpenTelemetry text map carrier.
type NatsMsgCarrier struct {
	msg *nats.Msg
}

// Get returns a header value.
func (c *NatsMsgCarrier) Get(key string) string {
	if c.msg.Header == nil {
		return ""
	}
	return c.msg.Header.Get(key)
}

// Set writes a header value, creating the header if needed.
func (c *NatsMsgCarrier) Set(key string, value string) {
	if c.msg.Header == nil {
		c.msg.Header = nats.Header{}
	}
	c.msg.Header.Set(key, value)
}

// Keys lists the header names.
func (c *NatsMsgCarrier) Keys() []string {
	ret := make([]string, 0, len(c.msg.Header))
	for k := range c.msg.Header {
		ret = append(ret, k)
	}
	return ret
}

// NewNatsMsgCarrier wraps msg.
func NewNatsMsgCarrier(msg *nats.Msg) *NatsMsgCarrier {
	return &NatsMsgCarrier{
		msg: msg,
	}
}
