// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package monoscan

import (
	"context"
	"time"
)

// Clock provides the time source and timed wait used to pace acquisition.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
