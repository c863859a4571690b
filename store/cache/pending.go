package cache

// pendingTask backs named long-running tasks such as "CLEAR": other
// operations may await it, but doing so is advisory, never enforced.
type pendingTask struct {
	done chan struct{}
	err  error
}

// BeginTask registers a named pending task and returns a finish function
// the caller must invoke exactly once with the task's outcome. If a task
// with the same name is already registered, it is replaced; awaiters
// already holding a reference to the old task still observe its original
// completion.
func (c *Cache) BeginTask(name string) (finish func(error)) {
	t := &pendingTask{done: make(chan struct{})}

	c.tasksMu.Lock()
	c.tasks[name] = t
	c.tasksMu.Unlock()

	return func(err error) {
		t.err = err
		close(t.done)

		c.tasksMu.Lock()
		if c.tasks[name] == t {
			delete(c.tasks, name)
		}
		c.tasksMu.Unlock()
	}
}

// AwaitTask blocks until the named pending task (if any) completes, and
// returns its outcome. If no task with that name is registered, it returns
// immediately with a nil error.
func (c *Cache) AwaitTask(name string) error {
	c.tasksMu.Lock()
	t, ok := c.tasks[name]
	c.tasksMu.Unlock()
	if !ok {
		return nil
	}
	<-t.done
	return t.err
}
