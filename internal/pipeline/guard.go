package pipeline

import (
	"sync"
	"time"
)

// DefaultTimeout bounds a run when the request does not set one.
const DefaultTimeout = 60 * time.Second

// Token is a one-shot cancellation signal. Cancel may be called any number of
// times from any goroutine.
type Token struct {
	once sync.Once
	done chan struct{}
}

func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *Token) Done() <-chan struct{} {
	return t.done
}

func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// AfterFunc schedules f after d and returns a function that stops the timer.
// It matches time.AfterFunc so tests can substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Guard arms a timeout token for one pipeline run.
type Guard struct {
	Timeout   time.Duration
	AfterFunc AfterFunc
}

// Start returns a token that is cancelled once Timeout elapses, and a stop
// function that disarms the timer. A non-positive Timeout uses DefaultTimeout.
func (g Guard) Start() (*Token, func()) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	afterFunc := g.AfterFunc
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	token := NewToken()
	stop := afterFunc(timeout, token.Cancel)
	return token, func() { stop() }
}
