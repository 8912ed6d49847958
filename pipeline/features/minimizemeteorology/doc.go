// Package minimizemeteorology consumes SceneCreated events. For each scene it crops the raw
// meteorology to the scene's envelope, stores the result as an artifact and, in one transaction,
// records the aggregate, moves the scene to MeteorologyReady, appends MeteorologyMinimized
// and acknowledges the event.
//
// Failures leave the event claimed until its lease expires. Once an event has been delivered
// more than the configured number of times, the scene is marked failed and the event acknowledged.
package minimizemeteorology
