// Package core contains the pipeline's domain model: scenes with their receptors and
// simulation configs, the meteorology aggregate cropped for a scene, and the simulation
// units executed per receptor and config.
//
// Types here are plain data with pure functions for state transitions and space-time
// computations. Persistence lives behind the repository ports in package store.
package core
