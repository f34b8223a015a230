// Package notebook creates documents in a remote store and presents them on
// a surface that is opened before the create request is made. Opening the
// surface up front keeps it attached to the user action that triggered it,
// however long the store takes to answer.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Surface is a presentation target, e.g. a browser tab, that starts blank.
type Surface interface {
	Navigate(url string) error
}

// Surfaces opens blank surfaces.
type Surfaces interface {
	OpenBlank() (Surface, error)
}

// Store creates a document under path and returns its name.
type Store interface {
	Create(ctx context.Context, path string) (string, error)
}

var ErrNoName = errors.New("store returned no document name")

// Creator opens documents under BaseURL/notebooks/Path.
type Creator struct {
	BaseURL  string
	Path     string
	Surfaces Surfaces
	Store    Store
	// OnFailure runs instead of navigation when creation fails.
	OnFailure func(s Surface, err error)
	Logger    *zap.Logger
}

// Pending is an in-flight creation. The surface is already open.
type Pending struct {
	surface Surface
	done    chan struct{}
	url     string
	err     error
}

func (p *Pending) Surface() Surface { return p.surface }

// Wait returns the URL the surface was navigated to.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.url, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// New opens a blank surface synchronously, then creates the document in the
// background and navigates the surface to it.
func (c *Creator) New(ctx context.Context) (*Pending, error) {
	surface, err := c.Surfaces.OpenBlank()
	if err != nil {
		return nil, fmt.Errorf("open surface: %w", err)
	}
	p := &Pending{surface: surface, done: make(chan struct{})}
	go c.finish(ctx, p)
	return p, nil
}

func (c *Creator) finish(ctx context.Context, p *Pending) {
	defer close(p.done)
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	name, err := c.Store.Create(ctx, c.Path)
	if err == nil && name == "" {
		err = ErrNoName
	}
	if err != nil {
		log.Info("document creation failed", zap.String("path", c.Path), zap.Error(err))
		p.err = err
		if c.OnFailure != nil {
			c.OnFailure(p.surface, err)
		}
		return
	}

	p.url = URLJoinEncode(c.BaseURL, "notebooks", c.Path, name)
	if err := p.surface.Navigate(p.url); err != nil {
		p.err = fmt.Errorf("navigate: %w", err)
		return
	}
	log.Debug("document opened", zap.String("url", p.url))
}

// URLJoinEncode joins parts with "/" and path-escapes every component
// between the slashes. The base is kept as given.
func URLJoinEncode(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, part := range parts {
		for _, seg := range strings.Split(part, "/") {
			if seg == "" {
				continue
			}
			out += "/" + url.PathEscape(seg)
		}
	}
	return out
}
