package ws

import "sync"

// serialQueue выполняет задачи строго по одной в порядке постановки.
// Горутина-исполнитель живёт только пока в очереди есть работа.
type serialQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
	idle    *sync.Cond
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{}
	q.idle = sync.NewCond(&q.mu)

	return q
}

func (q *serialQueue) push(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)

	if !q.running {
		q.running = true
		go q.drain()
	}
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()

			return
		}

		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// wait блокируется, пока очередь не опустеет. Нельзя вызывать из задачи.
func (q *serialQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.running {
		q.idle.Wait()
	}
}
