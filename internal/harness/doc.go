// Package harness provides the differential and performance harnesses for
// the index: an in-memory reference model, a deterministic operation
// fuzzer with msgpack trace capture, a cross-adapter equivalence runner,
// and the benchmark suite behind the bench command.
//
// The fuzzer draws operations with a xorshift64 generator, so a seed
// fully determines the stream. When the index and the reference disagree
// the failing prefix is written out as a trace file that Replay can
// re-execute against any adapter.
package harness
