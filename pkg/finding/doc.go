// Package finding provides the shared result types flowing through the
// scan pipeline: the raw outcome of one check invocation on one resource,
// and the normalized Finding produced after mute and delta classification.
//
// Every pipeline stage consumes and produces these types, so they carry no
// behavior beyond identity, classification, and validation helpers.
package finding
