package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/danghamo/docidentity/internal/docstore"
)

// Call is one observed round trip.
type Call struct {
	Op        string
	Partition string
	ID        string
}

// String renders the call as "op partition/id".
func (c Call) String() string {
	return fmt.Sprintf("%s %s/%s", c.Op, c.Partition, c.ID)
}

type fault struct {
	op    string
	match func(partition, id string) bool
	err   error
}

// Recorder wraps a docstore.Client, logging every call in order and failing
// calls that match an injected fault. Used to assert write ordering and to
// simulate a crash between two steps.
type Recorder struct {
	docstore.Client

	mu     sync.Mutex
	calls  []Call
	faults []fault
}

// NewRecorder wraps inner.
func NewRecorder(inner docstore.Client) *Recorder {
	return &Recorder{Client: inner}
}

// FailOn makes every op call whose address satisfies match return err.
// A nil match fails every call of that op.
func (r *Recorder) FailOn(op string, match func(partition, id string) bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, fault{op: op, match: match, err: err})
}

// Reset clears recorded calls and faults.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.faults = nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the recorded calls rendered with Call.String.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func (r *Recorder) observe(op, partition, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, Partition: partition, ID: id})
	for _, f := range r.faults {
		if f.op == op && (f.match == nil || f.match(partition, id)) {
			return f.err
		}
	}
	return nil
}

// Create implements docstore.Client.
func (r *Recorder) Create(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := r.observe("create", doc.Partition, doc.ID); err != nil {
		return nil, err
	}
	return r.Client.Create(ctx, doc)
}

// Read implements docstore.Client.
func (r *Recorder) Read(ctx context.Context, partition, id string) (*docstore.Document, error) {
	if err := r.observe("read", partition, id); err != nil {
		return nil, err
	}
	return r.Client.Read(ctx, partition, id)
}

// Replace implements docstore.Client.
func (r *Recorder) Replace(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := r.observe("replace", doc.Partition, doc.ID); err != nil {
		return nil, err
	}
	return r.Client.Replace(ctx, doc)
}

// Delete implements docstore.Client.
func (r *Recorder) Delete(ctx context.Context, partition, id string) error {
	if err := r.observe("delete", partition, id); err != nil {
		return err
	}
	return r.Client.Delete(ctx, partition, id)
}

// Query implements docstore.Client.
func (r *Recorder) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	scope := q.Partition
	if q.CrossPartition {
		scope = "*"
	}
	if err := r.observe("query", scope, q.Kind); err != nil {
		return nil, err
	}
	return r.Client.Query(ctx, q)
}
