// Package model implements the IIO context model shared by the client, the
// daemon and the backends.
//
// # Hierarchy
//
//	Context
//	├── context attributes (name/value pairs)
//	└── Device (iio:device0, trigger0, ...)
//	    ├── device, debug and buffer attributes
//	    └── Channel (voltage0 input, altvoltage1 output, ...)
//	        ├── scan element: index + data format
//	        └── channel attributes
//
// # Addressing
//
// Everything is addressed by index, the way the binary protocol does:
// devices by their position in the context, channels by their position in
// the device, attributes by their position in the owning list. AttrRef
// captures such an address.
//
// # Samples
//
// Only scan-element channels can be enabled in a ChannelMask. A sample is
// the concatenation of the enabled channels in scan-index order, each
// aligned to its own storage size; the sample itself is padded to the
// largest storage size. Demux and Mux convert blocks between two masks of
// the same device.
package model
