// Package perf implements the EnablePerformanceMetrics decorator that wraps
// public store operations with timing, backed by VictoriaMetrics/metrics.
package perf

import (
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Decorator times and counts invocations of each write operation.
type Decorator struct {
	set             *metrics.Summary
	multiSet        *metrics.Summary
	merge           *metrics.Summary
	mergeCollection *metrics.Summary
	setCollection   *metrics.Summary
	clear           *metrics.Summary
	update          *metrics.Summary

	queueDepth *metrics.Counter
}

// NewDecorator registers a fresh, independent metric set under prefix so
// multiple Store instances in the same process don't collide.
func NewDecorator(set *metrics.Set, prefix string) *Decorator {
	return &Decorator{
		set:             set.NewSummary(prefix + `_op_duration_seconds{op="set"}`),
		multiSet:        set.NewSummary(prefix + `_op_duration_seconds{op="multiSet"}`),
		merge:           set.NewSummary(prefix + `_op_duration_seconds{op="merge"}`),
		mergeCollection: set.NewSummary(prefix + `_op_duration_seconds{op="mergeCollection"}`),
		setCollection:   set.NewSummary(prefix + `_op_duration_seconds{op="setCollection"}`),
		clear:           set.NewSummary(prefix + `_op_duration_seconds{op="clear"}`),
		update:          set.NewSummary(prefix + `_op_duration_seconds{op="update"}`),
		queueDepth:      set.NewCounter(prefix + `_merge_queue_folds_total`),
	}
}

// Time wraps fn, recording its duration against the named operation's
// summary. op must be one of the store's seven public write operations.
func (d *Decorator) Time(op string, fn func() error) error {
	if d == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	d.summaryFor(op).UpdateDuration(start)
	return err
}

// RecordFold increments the merge-queue fold counter, letting operators
// watch batching effectiveness: folds should be far fewer than enqueues
// under concurrent merge bursts.
func (d *Decorator) RecordFold() {
	if d == nil {
		return
	}
	d.queueDepth.Inc()
}

func (d *Decorator) summaryFor(op string) *metrics.Summary {
	switch op {
	case "set":
		return d.set
	case "multiSet":
		return d.multiSet
	case "merge":
		return d.merge
	case "mergeCollection":
		return d.mergeCollection
	case "setCollection":
		return d.setCollection
	case "clear":
		return d.clear
	default:
		return d.update
	}
}
