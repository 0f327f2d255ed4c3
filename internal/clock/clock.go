// Package clock supplies the active IANA timezone and signals when it changes.
package clock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "cronjob/pkg/logx"
)

// Provider is what the scheduler needs from the host clock.
type Provider interface {
	Timezone() string
	// Changes emits (coalesced) after the timezone changed.
	Changes() <-chan struct{}
}

// Clock resolves the configured timezone, falling back to the host zone.
type Clock struct {
	log logx.Logger

	// localZone resolves the host zone; replaced in tests.
	localZone func() string
	// zoneFiles are watched by Watch.
	zoneFiles []string

	mu         sync.Mutex
	configured string
	current    string

	changes chan struct{}
}

type Option func(*Clock)

func WithLogger(log logx.Logger) Option { return func(c *Clock) { c.log = log } }

// WithLocalZone overrides host zone detection.
func WithLocalZone(fn func() string) Option { return func(c *Clock) { c.localZone = fn } }

// WithZoneFiles overrides the files watched for host zone changes.
func WithZoneFiles(paths ...string) Option {
	return func(c *Clock) { c.zoneFiles = append([]string(nil), paths...) }
}

// New creates a clock. configured may be empty (use host zone).
func New(configured string, opts ...Option) *Clock {
	c := &Clock{
		log:        logx.Nop(),
		localZone:  LocalZone,
		zoneFiles:  []string{"/etc/localtime", "/etc/timezone"},
		configured: strings.TrimSpace(configured),
		changes:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.current = c.resolveLocked()
	return c
}

func (c *Clock) Timezone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Changes() <-chan struct{} { return c.changes }

// SetConfigured applies a new configured zone ("" = host zone).
// It reports whether the effective timezone changed.
func (c *Clock) SetConfigured(tz string) bool {
	c.mu.Lock()
	c.configured = strings.TrimSpace(tz)
	changed := c.refreshLocked()
	c.mu.Unlock()
	if changed {
		c.signal()
	}
	return changed
}

// Refresh re-resolves the host zone (used when it is not overridden by config).
func (c *Clock) Refresh() bool {
	c.mu.Lock()
	changed := c.refreshLocked()
	c.mu.Unlock()
	if changed {
		c.signal()
	}
	return changed
}

func (c *Clock) refreshLocked() bool {
	next := c.resolveLocked()
	if next == c.current {
		return false
	}
	c.log.Info("timezone changed", logx.String("from", c.current), logx.String("to", next))
	c.current = next
	return true
}

func (c *Clock) resolveLocked() string {
	if c.configured != "" {
		return c.configured
	}
	if c.localZone != nil {
		if z := strings.TrimSpace(c.localZone()); z != "" {
			return z
		}
	}
	return "Local"
}

func (c *Clock) signal() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Watch follows host zone files and refreshes on change until ctx is done.
func (c *Clock) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	names := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range c.zoneFiles {
		names[filepath.Base(p)] = true
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			c.log.Warn("timezone watch add failed", logx.String("dir", d), logx.Err(err))
		}
	}

	// Editors and tzdata tools replace files in several steps; debounce.
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if names[filepath.Base(ev.Name)] {
				debounce = time.After(250 * time.Millisecond)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("timezone watch error", logx.Err(err))
		case <-debounce:
			debounce = nil
			c.Refresh()
		}
	}
}

// LocalZone returns the host IANA zone name, or "" if it cannot be determined.
//
// Order: $TZ, /etc/timezone, the /etc/localtime symlink target.
func LocalZone() string {
	if tz := strings.TrimPrefix(strings.TrimSpace(os.Getenv("TZ")), ":"); tz != "" {
		return tz
	}
	if b, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(b)); tz != "" {
			return tz
		}
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		return zoneFromPath(target)
	}
	return ""
}

func zoneFromPath(p string) string {
	const marker = "zoneinfo/"
	i := strings.LastIndex(p, marker)
	if i < 0 {
		return ""
	}
	return p[i+len(marker):]
}
