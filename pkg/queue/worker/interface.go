// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package worker

import "context"

// Worker represents a concurrent task executor.
// Each worker independently pops its input queue, processes what it gets and reports
// results downstream. Run returns when the input is closed and drained, when the idle
// limit is reached, or with ctx.Err() on cancellation.
type Worker interface {
	Run(ctx context.Context) error
	Processed() int64
}
