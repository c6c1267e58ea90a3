package msi

import "log/slog"

// Option configures a Package.
type Option func(*Package)

// WithLogger sets the logger used for debug output. The default
// discards all records.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Package) {
		p.logger = logger
	}
}

// WithMaxStreamSize caps the size of any single stream read from the
// package. Larger streams fail with ErrStreamTooLarge.
func WithMaxStreamSize(limit uint64) Option {
	return func(p *Package) {
		p.maxStreamSize = limit
	}
}
