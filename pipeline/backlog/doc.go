// Package backlog exposes the amount of committed, unfinished work per stage.
//
// An external autoscaler polls these numbers, either as Prometheus gauges or through the
// backlog command, and maps them to replica counts. Nothing here calls into the scaler.
package backlog
