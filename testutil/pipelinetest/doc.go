// Package pipelinetest provides fixtures shared by the stage tests: a controllable clock
// and helpers that seed scenes the way the scene producer would.
package pipelinetest
