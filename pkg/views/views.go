// Package views renders the HTML pages and serves the bundled static assets.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin/render"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const templatePattern = "*.html"

// Static returns the embedded assets served under /static.
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Renderer implements gin's render.HTMLRender. Templates can be swapped while
// requests are being served.
type Renderer struct {
	tmpl atomic.Pointer[template.Template]
}

var _ render.HTMLRender = (*Renderer)(nil)

// New parses the embedded templates.
func New() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	return newFromFS(sub)
}

// NewFromDir parses templates from dir on disk.
func NewFromDir(dir string) (*Renderer, error) {
	return newFromFS(os.DirFS(dir))
}

func newFromFS(fsys fs.FS) (*Renderer, error) {
	t, err := parse(fsys)
	if err != nil {
		return nil, err
	}
	r := &Renderer{}
	r.tmpl.Store(t)
	return r, nil
}

func parse(fsys fs.FS) (*template.Template, error) {
	t, err := template.New("").Funcs(funcs).ParseFS(fsys, templatePattern)
	if err != nil {
		return nil, fmt.Errorf("views: parse templates: %w", err)
	}
	return t, nil
}

var funcs = template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
}

// Instance satisfies render.HTMLRender.
func (r *Renderer) Instance(name string, data any) render.Render {
	return render.HTML{Template: r.tmpl.Load(), Name: name, Data: data}
}

// Reload re-parses templates from dir. The previous set stays active on error.
func (r *Renderer) Reload(dir string) error {
	t, err := parse(os.DirFS(dir))
	if err != nil {
		return err
	}
	r.tmpl.Store(t)
	return nil
}

// Watch reloads templates from dir whenever a file in it changes, until ctx is done.
func (r *Renderer) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("views: watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("views: watch %s: %w", dir, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".html" || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Reload(dir); err != nil {
					slog.Warn("template reload failed", "file", ev.Name, "err", err)
					continue
				}
				slog.Info("templates reloaded", "file", ev.Name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("template watcher error", "err", err)
			}
		}
	}()
	return nil
}
