// Package producescenes turns scene definitions into scenes, receptors and simulation configs,
// and announces each new scene with a SceneCreated event in the same transaction.
//
// Producing the same definition twice creates one scene. The second run is reported as idempotent.
package producescenes
