// Package profilo is an in-process tracing and profiling core: a
// lock-free, bounded ring buffer collects structured event entries
// (stack frames, annotations, timestamps, opaque byte blobs) from many
// concurrent producer goroutines, and a single consumer reconstructs,
// transforms, and serializes them to compressed trace files.
//
// Core Components:
//   - Tracer: the producer-facing façade. Owns entry-ID assignment and
//     packet fragmentation onto the ring buffer.
//   - Processor: the consumer-facing façade. Drains the ring buffer,
//     reassembles entries, and drives a trace lifecycle writer.
//   - Callbacks: notified when a trace starts, ends, or aborts.
//
// Basic Usage:
//
//	tracer, _ := profilo.New(1024)
//
//	proc, _ := profilo.NewProcessor(tracer, profilo.WriterConfig{
//		Folder:    "/var/trace",
//		Prefix:    "app",
//		Precision: 100,
//	}, 42, myCallbacks)
//	proc.Start()
//	defer proc.Close()
//
//	tracer.WriteTraceStart(42, 7)
//	tracer.WriteStackFrames(tid, tracer.Now(), []int64{0xA, 0xB})
//	tracer.WriteTraceEnd(42)
//
// Thread Safety:
//
// Tracer is safe for concurrent use by many producer goroutines and
// never blocks on the consumer: under load it overwrites unread
// ring-buffer slots rather than stall a producer, and the Processor
// detects the overwrite as loss (Processor.LossCount). Processor
// itself is single-threaded internally; callers only interact with it
// through Start/Close.
//
// Resource Cleanup:
//
// Call Processor.Close to stop the background consumer goroutine. If a
// trace is still active at that point, it is aborted rather than left
// half-written.
package profilo
