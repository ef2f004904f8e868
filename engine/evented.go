package engine

import (
	"github.com/fulldump/unikv/loop"
)

const (
	EventUpgradeNeeded = "upgradeneeded"
	EventSuccess       = "success"
	EventError         = "error"
	EventBlocked       = "blocked"
)

// EventedFactory is the event-driven flavour of the engine: opening and
// deleting return request objects that dispatch named events.
type EventedFactory struct {
	factory *Factory
}

func NewEventedFactory(options Options) *EventedFactory {
	return &EventedFactory{factory: NewFactory(options)}
}

func (f *EventedFactory) Loop() *loop.Loop {
	return f.factory.Loop()
}

func (f *EventedFactory) Close() error {
	return f.factory.Close()
}

type Event struct {
	Type       string
	Target     *EventRequest
	OldVersion int
	NewVersion int
}

type EventRequest struct {
	ReadyState  string
	Result      any
	Error       error
	Transaction *Transaction

	listeners map[string][]func(e *Event)
}

func newEventRequest() *EventRequest {
	return &EventRequest{
		ReadyState: RequestPending,
		listeners:  map[string][]func(e *Event){},
	}
}

func (r *EventRequest) AddEventListener(eventType string, listener func(e *Event)) {
	r.listeners[eventType] = append(r.listeners[eventType], listener)
}

func (r *EventRequest) dispatch(e *Event) {
	e.Target = r
	for _, listener := range r.listeners[e.Type] {
		listener(e)
	}
}

// OpenEvented connects to name at version. The result of the request is the
// *Database.
func (f *EventedFactory) OpenEvented(name string, version int) *EventRequest {
	r := newEventRequest()

	open := f.factory.Open(name, version)
	open.OnUpgradeNeeded = func(db *Database, tx *Transaction, oldVersion, newVersion int) {
		r.Result = db
		r.Transaction = tx
		r.dispatch(&Event{Type: EventUpgradeNeeded, OldVersion: oldVersion, NewVersion: newVersion})
	}
	open.OnSuccess = func(db *Database) {
		r.ReadyState = RequestDone
		r.Result = db
		r.Transaction = nil
		r.dispatch(&Event{Type: EventSuccess, NewVersion: db.Version()})
	}
	open.OnError = func(err error) {
		r.ReadyState = RequestDone
		r.Result = nil
		r.Transaction = nil
		r.Error = err
		r.dispatch(&Event{Type: EventError})
	}
	open.OnBlocked = func(oldVersion, newVersion int) {
		r.dispatch(&Event{Type: EventBlocked, OldVersion: oldVersion, NewVersion: newVersion})
	}

	return r
}

// DeleteEvented drops name. The result of the request is the old version.
func (f *EventedFactory) DeleteEvented(name string) *EventRequest {
	r := newEventRequest()

	del := f.factory.DeleteDatabase(name)
	del.OnSuccess = func(oldVersion int) {
		r.ReadyState = RequestDone
		r.Result = oldVersion
		r.dispatch(&Event{Type: EventSuccess, OldVersion: oldVersion})
	}
	del.OnError = func(err error) {
		r.ReadyState = RequestDone
		r.Error = err
		r.dispatch(&Event{Type: EventError})
	}
	del.OnBlocked = func(oldVersion, newVersion int) {
		r.dispatch(&Event{Type: EventBlocked, OldVersion: oldVersion, NewVersion: newVersion})
	}

	return r
}

func (f *EventedFactory) Databases(onSuccess func(infos []DatabaseInfo), onError func(err error)) {
	f.factory.Databases(onSuccess, onError)
}
