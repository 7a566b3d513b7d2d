// Package events carries in-process domain events between components.
//
// The completion aggregator emits a GroupCompletedEvent once every task of
// an email has finished. Handlers such as the tenant notifier and the NSQ
// publisher subscribe without the aggregator knowing about them.
package events
