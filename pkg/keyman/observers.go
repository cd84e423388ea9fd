package keyman

import "sync"

type observer[T any] struct {
	id int
	fn func(T)
}

// observers is a list of callbacks invoked synchronously in registration
// order.
type observers[T any] struct {
	mu     sync.Mutex
	nextID int
	list   []observer[T]
}

// add registers fn and returns a function removing it again.
func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	o.list = append(o.list, observer[T]{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		for i, obs := range o.list {
			if obs.id == id {
				o.list = append(o.list[:i:i], o.list[i+1:]...)
				return
			}
		}
	}
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	list := make([]observer[T], len(o.list))
	copy(list, o.list)
	o.mu.Unlock()

	for _, obs := range list {
		obs.fn(v)
	}
}
