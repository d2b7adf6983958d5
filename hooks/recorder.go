package hooks

import (
	"context"
	"sync"

	"tablecore/data/orm"
)

// Call 一次钩子调用
type Call struct {
	Event   string
	Table   string
	Changes []orm.Row
	Prev    []orm.Row
	Next    []orm.Row
	Link    *LinkEvent
	Err     error
}

// Recorder 记录所有调用，BeforeErr 非空时 Before* 返回该错误
type Recorder struct {
	BeforeErr error

	mu    sync.Mutex
	calls []Call
}

var _ Dispatcher = (*Recorder)(nil)

func (r *Recorder) add(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls 返回调用副本
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count 某类事件的调用次数
func (r *Recorder) Count(event string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Event == event {
			n++
		}
	}
	return n
}

// Last 最近一次某类事件
func (r *Recorder) Last(event string) (Call, bool) {
	calls := r.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Event == event {
			return calls[i], true
		}
	}
	return Call{}, false
}

func (r *Recorder) BeforeUpdate(_ context.Context, t *orm.Table, changes orm.Row, _ Meta) error {
	r.add(Call{Event: EventBeforeUpdate, Table: t.ID, Changes: []orm.Row{changes}})
	return r.BeforeErr
}

func (r *Recorder) AfterUpdate(_ context.Context, t *orm.Table, prev, next orm.Row, _ Meta) error {
	r.add(Call{Event: EventAfterUpdate, Table: t.ID, Prev: []orm.Row{prev}, Next: []orm.Row{next}})
	return nil
}

func (r *Recorder) BeforeBulkUpdate(_ context.Context, t *orm.Table, changes []orm.Row, _ Meta) error {
	r.add(Call{Event: EventBeforeBulkUpdate, Table: t.ID, Changes: changes})
	return r.BeforeErr
}

func (r *Recorder) AfterBulkUpdate(_ context.Context, t *orm.Table, prev, next []orm.Row, _ Meta) error {
	r.add(Call{Event: EventAfterBulkUpdate, Table: t.ID, Prev: prev, Next: next})
	return nil
}

func (r *Recorder) ErrorUpdate(_ context.Context, t *orm.Table, changes []orm.Row, cause error, _ Meta) error {
	r.add(Call{Event: EventErrorUpdate, Table: t.ID, Changes: changes, Err: cause})
	return nil
}

func (r *Recorder) AfterLink(_ context.Context, t *orm.Table, e LinkEvent, _ Meta) error {
	r.add(Call{Event: EventAfterLink, Table: t.ID, Link: &e})
	return nil
}
