package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

type sessionKey struct{}

// Session is one attempt of a Firestore transaction. Writes are buffered until the callback returns so
// that every read happens before the first write, and reads see the buffered writes of the same attempt.
type Session struct {
	tx *firestore.Transaction

	mu      sync.Mutex
	order   []string
	pending map[string]stagedWrite
}

type stagedWrite struct {
	ref     *firestore.DocumentRef
	payload any
	value   any
	deleted bool
}

func newSession(tx *firestore.Transaction) *Session {
	return &Session{tx: tx, pending: make(map[string]stagedWrite)}
}

// SessionFrom returns the session bound to ctx by RunInSession.
func SessionFrom(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// Transaction exposes the underlying transaction for reads.
func (s *Session) Transaction() *firestore.Transaction {
	return s.tx
}

func (s *Session) stage(ref *firestore.DocumentRef, w stagedWrite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ref = ref
	if _, exists := s.pending[ref.Path]; !exists {
		s.order = append(s.order, ref.Path)
	}
	s.pending[ref.Path] = w
}

func (s *Session) lookup(ref *firestore.DocumentRef) (stagedWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.pending[ref.Path]
	return w, ok
}

// staged returns the buffered writes under the collection path in staging order.
func (s *Session) staged(collectionPath string) []stagedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stagedWrite
	for _, path := range s.order {
		w := s.pending[path]
		if w.ref.Parent != nil && w.ref.Parent.Path == collectionPath {
			out = append(out, w)
		}
	}
	return out
}

func (s *Session) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range s.order {
		w := s.pending[path]
		var err error
		if w.deleted {
			err = s.tx.Delete(w.ref)
		} else {
			err = s.tx.Set(w.ref, w.payload)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

const (
	sessionAttempts = 5
	sessionTimeout  = 15 * time.Second
)

// RunInSession runs fn inside a transaction whose session travels on the context. Nested calls join
// the outer session. The whole callback is re-run when Firestore aborts the attempt. The
// transaction is bounded by sessionTimeout unless ctx already expires sooner.
func (p *Provider) RunInSession(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := SessionFrom(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > sessionTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sessionTimeout)
		defer cancel()
	}

	var fnErr error
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		session := newSession(tx)
		fnErr = fn(context.WithValue(ctx, sessionKey{}, session))
		if fnErr != nil {
			return fnErr
		}
		return session.flush()
	}, firestore.MaxAttempts(sessionAttempts))
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction", err)
}
