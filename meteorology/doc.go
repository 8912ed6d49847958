// Package meteorology locates raw ARL meteorology files for a time range, fetches them from
// a blob archive and crops them to a scene's envelope.
//
// Cropping is done by HYSPLIT's xtrct_grid and xtrct_time programs shipped with STILT.
// Any other implementation of Cropper can be plugged in.
package meteorology
