package engine

const (
	RequestPending = "pending"
	RequestDone    = "done"
)

// Request is one asynchronous operation. OnSuccess and OnError are called on
// the loop. A failed request without OnError aborts its transaction.
//
// Cursor requests succeed once per step: with the *Cursor while there is an
// entry, with nil when the walk is exhausted.
type Request struct {
	Source      any
	Transaction *Transaction
	OnSuccess   func(result any)
	OnError     func(err error)

	ReadyState string
	Result     any
	Error      error

	op func() (any, *Error)
}

func (r *Request) settle(result any, err *Error) {
	r.ReadyState = RequestDone

	if err != nil {
		r.Result = nil
		r.Error = err
		if r.OnError != nil {
			r.OnError(err)
			return
		}
		if r.Transaction != nil {
			r.Transaction.abort(err)
		}
		return
	}

	r.Result = result
	r.Error = nil
	if r.OnSuccess != nil {
		r.OnSuccess(result)
	}
}
