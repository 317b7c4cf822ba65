package core

import "pkt.systems/tabkeep/schema"

// EventSink receives tab events and change signals from a selector.
type EventSink interface {
	OnTabEvent(event schema.TabEvent)
	OnChange(window int)
}

// EventFanout forwards events to several sinks.
type EventFanout []EventSink

// OnTabEvent implements EventSink.
func (f EventFanout) OnTabEvent(event schema.TabEvent) {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		sink.OnTabEvent(event)
	}
}

// OnChange implements EventSink.
func (f EventFanout) OnChange(window int) {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		sink.OnChange(window)
	}
}
