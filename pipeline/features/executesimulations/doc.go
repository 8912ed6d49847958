// Package executesimulations runs pending simulations.
//
// A Handler claims one simulation at a time with a conditional update, runs the external
// simulation process under a deadline and records the outcome. Failed attempts go back to
// pending until the attempt budget is spent. A Sweeper recovers simulations whose worker
// vanished without recording an outcome.
package executesimulations
