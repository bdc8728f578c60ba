// Package consumer runs the consumer side of the pipeline: a consumer
// group reader with bounded retry and dead-letter routing, the relay that
// moves delayed retries back onto the primary stream, and the trimmer that
// keeps every stream under its configured length.
//
// Every delivery is acknowledged exactly once, after it has been handled,
// requeued or dead-lettered. A message whose requeue and dead-letter
// publishes both fail stays pending so the group redelivers it.
package consumer
