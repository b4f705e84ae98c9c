// Package service implements the IIO daemon.
//
// A Daemon serves one backend.Backend to remote clients. Clients connect
// over TCP, a serial port or USB FunctionFS pipes; every connection is a
// session.
//
// # Sessions
//
// A session starts in the legacy text protocol: one command per line,
// answered with a decimal value line and, for some commands, a payload.
// The BINARY command hands the connection over to a responder.Responder
// running the binary protocol until the client leaves.
//
// # Buffer workers
//
// Devices opened with the text OPEN command are shared: one worker per
// device owns the hardware buffer, built from the union of the channel
// masks of its subscribers. Workers start on the first OPEN and exit when
// the last subscriber closes.
//
// Binary clients own their buffers instead. Each buffer gets an enqueue
// and a dequeue queue, so that blocking on the hardware never stalls the
// reader of the connection.
//
// # Lifecycle
//
//	d, err := service.New(backend, service.DefaultConfig())
//	go d.Run(ctx)
//	<-d.Ready()
//	...
//	d.Restart() // drop every client and listen again
//	d.Stop()
package service
