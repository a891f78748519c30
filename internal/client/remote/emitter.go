package remote

import "sync"

// emitter 按注册顺序同步派发认证事件。
type emitter struct {
	mu        sync.Mutex
	next      int
	listeners map[int]AuthListener
	order     []int
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[int]AuthListener)}
}

func (e *emitter) add(cb AuthListener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.listeners[id] = cb
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i], e.order[i+1:]...)
					break
				}
			}
		})
	}
}

// emit 在锁外调用监听器，监听器内可以安全地再次注册或注销。
func (e *emitter) emit(ev AuthChangeEvent) {
	e.mu.Lock()
	cbs := make([]AuthListener, 0, len(e.order))
	for _, id := range e.order {
		cbs = append(cbs, e.listeners[id])
	}
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}
