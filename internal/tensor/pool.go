package tensor

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnknownBuffer = errors.New("tensor: unknown buffer")
	ErrLent          = errors.New("tensor: buffer already checked out")
)

// Pool owns named buffers and lends them out for the duration of one call.
type Pool struct {
	bufs map[string]*Buffer
	lent map[string]bool
}

func NewPool() *Pool {
	return &Pool{
		bufs: make(map[string]*Buffer),
		lent: make(map[string]bool),
	}
}

// Put registers buf under its spec name, replacing any previous buffer.
func (p *Pool) Put(buf *Buffer) {
	p.bufs[buf.Spec.Name] = buf
	delete(p.lent, buf.Spec.Name)
}

// Get returns the named buffer without lending it.
func (p *Pool) Get(name string) (*Buffer, bool) {
	b, ok := p.bufs[name]
	return b, ok
}

// Names returns the registered names in sorted order.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.bufs))
	for n := range p.bufs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Checkout lends the named buffers. Either every buffer is lent or none is.
func (p *Pool) Checkout(names ...string) (map[string]*Buffer, error) {
	out := make(map[string]*Buffer, len(names))
	for _, n := range names {
		b, ok := p.bufs[n]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownBuffer, n)
		}
		if p.lent[n] {
			return nil, fmt.Errorf("%w: %q", ErrLent, n)
		}
		out[n] = b
	}
	for n := range out {
		p.lent[n] = true
	}
	return out, nil
}

// Checkin returns lent buffers to the pool.
func (p *Pool) Checkin(bufs map[string]*Buffer) {
	for n := range bufs {
		delete(p.lent, n)
	}
}

// Lent reports whether the named buffer is currently checked out.
func (p *Pool) Lent(name string) bool {
	return p.lent[name]
}
