// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package monoscan

import "errors"

// Error kinds reported by the instrument adapters and exporters. Adapters wrap
// these with context, so callers should test with errors.Is.
var (
	// ErrChannelTimeout indicates an instrument did not reply within the
	// configured command timeout.
	ErrChannelTimeout = errors.New("channel timeout")

	// ErrChannelIO indicates a port or transport failure.
	ErrChannelIO = errors.New("channel i/o error")

	// ErrMalformedReply indicates a reply did not have the expected shape.
	ErrMalformedReply = errors.New("malformed reply")

	// ErrExport indicates the results could not be written.
	ErrExport = errors.New("export failed")
)
