// Package generatesimulations consumes MeteorologyMinimized events and expands a scene into one
// pending simulation per receptor and config, each announced with a SimulationCreated event.
//
// The expansion runs in a single transaction together with the scene's move to
// SimulationsGenerated and the acknowledgement of the event. Re-expanding a scene after a
// redelivery inserts nothing new.
package generatesimulations
