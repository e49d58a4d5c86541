package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	apperrors "cdi-alert-engine/pkg/errors"
)

// Script identifies one configured rule script. Name is the source filename
// without directory or extension and doubles as the alert's identity key.
type Script struct {
	Path          string
	Name          string
	CriteriaGroup string
}

// NewScript derives the script identity from its path.
func NewScript(path, criteriaGroup string) Script {
	base := filepath.Base(path)
	return Script{
		Path:          path,
		Name:          strings.TrimSuffix(base, filepath.Ext(base)),
		CriteriaGroup: criteriaGroup,
	}
}

// scriptCache compiles scripts once and caches the compiled prototypes.
// Compiled functions are immutable and safe to instantiate on any state, so
// all pooled interpreters share one cache. A filesystem watcher invalidates
// entries when the source changes on disk.
type scriptCache struct {
	mu      sync.Mutex
	protos  map[string]*lua.FunctionProto
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *zap.Logger
}

func newScriptCache(logger *zap.Logger) (*scriptCache, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperrors.NewInternal("failed to create script watcher", err)
	}

	c := &scriptCache{
		protos:  make(map[string]*lua.FunctionProto),
		watcher: watcher,
		done:    make(chan struct{}),
		logger:  logger,
	}
	go c.watch()
	return c, nil
}

// load returns the compiled prototype for the script at path, compiling and
// caching it on first use.
func (c *scriptCache) load(path string) (*lua.FunctionProto, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if proto, ok := c.protos[path]; ok {
		return proto, nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewScript("failed to open script", err)
	}

	chunk, err := parse.Parse(strings.NewReader(string(source)), path)
	if err != nil {
		return nil, apperrors.NewScript("failed to parse script", err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, apperrors.NewScript("failed to compile script", err)
	}

	c.protos[path] = proto
	if err := c.watcher.Add(path); err != nil {
		c.logger.Warn("script change watch unavailable; restart to pick up edits",
			zap.String("script", path), zap.Error(err))
	}
	return proto, nil
}

func (c *scriptCache) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.invalidate(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("script watcher error", zap.Error(err))
		}
	}
}

func (c *scriptCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.protos[path]; ok {
		delete(c.protos, path)
		c.logger.Info("script changed on disk, recompiling on next run", zap.String("script", path))
	}
}

func (c *scriptCache) close() error {
	close(c.done)
	return c.watcher.Close()
}
