// Package task runs the extraction pipeline on top of the durable task
// queue. The ExtractionWorker claims runnable tasks and drives each through
// template lookup, conversion and extraction; the CompletionAggregator
// closes an email once all of its tasks are terminal; the StuckTaskReaper
// recovers tasks abandoned by crashed workers. Runner schedules these
// components on independent tickers, and Service exposes enqueue, cancel
// and manual retry to the intake consumer and the operator API.
//
// No component keeps authoritative state in memory: every claim and
// transition is a conditional write against the store, so any number of
// processes can run the same jobs.
package task
