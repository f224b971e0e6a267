// Package scope runs background tasks that belong to a connection.
// A Scope owns the tasks it spawns, offers a join point (Wait) and
// propagates cancellation and errors according to a Policy. It is the
// execution context a caller may hand to amqpscope.Params.Scheduler.
package scope
