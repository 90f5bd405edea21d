package sdo

import "time"

const (
	defaultTimeout     = time.Second
	defaultLockTimeout = 2 * time.Second
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout overrides the completion rendezvous timeout (spec default
// 1s): how long Read/Write wait for the listener to finish a transfer
// once the initiate frame is sent.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLockTimeout overrides the exclusion lock acquisition bound (spec
// default 2s): how long Read/Write wait for a prior transfer to finish
// before failing Busy.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Client) { c.lockTimeout = d }
}
