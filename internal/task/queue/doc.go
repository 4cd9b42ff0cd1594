// Package queue is foxq's durable in-process task scheduler.
//
// A Queue[T] holds an ordered list of tasks, runs at most Concurrency of
// them at a time through a host-supplied ProcessFunc, and mirrors the whole
// list into a Store after every mutation.
//
// Status transitions:
//
//	pending -> running -> completed | error
//	error -> pending (RestartErrorTasks)
//
// Scheduling happens in ticks (RunOnce). A tick claims up to the free slot
// count of pending tasks in insertion order, marks them running, dispatches
// them concurrently, waits for the whole batch, records the outcomes and
// saves. Ticks never overlap. Start runs ticks in a loop separated by
// SchedulerInterval, plus DelayAfterBatch after a tick that did work.
//
// Tasks are never removed. Tasks found running at Load time (left over by a
// process that died mid-flight) are not requeued and keep their slot.
package queue
