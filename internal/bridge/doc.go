// Package bridge forwards dispatched events to out-of-process plugins.
//
// A Bridge observes the reactor. Every outcome is projected into a
// read-only JSON Document and queued; worker goroutines drain the queue into
// a Sink. The queue is bounded and Observe never blocks the dispatch: when
// the queue is full the document is dropped and counted.
//
// The transport itself lives behind Sink. WriterSink writes newline
// delimited JSON to any io.Writer.
package bridge
