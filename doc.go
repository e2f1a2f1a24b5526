// Copyright © 2020 Jonathan Whitaker <github@whitaker.io>.
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package substrate is the execution substrate of a distributed dataflow
// engine: a block-structured, pull-based operator chain, a stream-element
// protocol carrying both data and control markers, a shuffle/routing layer
// over networked channels, and the fold/reduce/group-by kernels that build
// stateful aggregation on top of it.
package substrate
