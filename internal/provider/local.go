package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/luCUBEratur/automatus/internal/bridgeproto"
	"github.com/luCUBEratur/automatus/internal/domain"
)

// NamedCommand is a handler registered with a [Local] provider and invoked
// through command_execution requests.
type NamedCommand func(ctx context.Context, args []string) (any, error)

// Local is a capability provider rooted at a workspace directory on the
// local filesystem. All file paths are resolved relative to the root and
// may not escape it.
type Local struct {
	root string

	mu       sync.RWMutex
	commands map[string]NamedCommand
	started  time.Time
}

// NewLocal creates a provider rooted at dir. The directory must exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	l := &Local{
		root:     abs,
		commands: make(map[string]NamedCommand),
		started:  time.Now(),
	}
	l.registerBuiltins()
	return l, nil
}

// Root returns the absolute workspace root.
func (l *Local) Root() string {
	return l.root
}

// RegisterCommand adds or replaces a named command.
func (l *Local) RegisterCommand(name string, fn NamedCommand) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands[name] = fn
}

// Query answers read-only workspace questions. An unrecognized queryType
// is an unknown-command error.
func (l *Local) Query(ctx context.Context, queryType string, args map[string]any) (any, error) {
	switch queryType {
	case "workspace_info":
		return map[string]any{
			"root":     l.root,
			"name":     filepath.Base(l.root),
			"platform": runtime.GOOS,
		}, nil
	case "file_stat":
		path, _ := args["path"].(string)
		abs, err := l.resolve(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		return map[string]any{
			"path":       path,
			"size":       info.Size(),
			"isDir":      info.IsDir(),
			"modifiedAt": info.ModTime().UnixMilli(),
		}, nil
	case "search":
		pattern, _ := args["pattern"].(string)
		if pattern == "" {
			return nil, fmt.Errorf("search requires a pattern")
		}
		return l.search(ctx, pattern)
	default:
		return nil, domain.NewBridgeError(bridgeproto.CodeUnknownCommand,
			"unknown query type %q", queryType)
	}
}

// FileOp performs a file action under the workspace root. An unrecognized
// operation is an unknown-command error.
func (l *Local) FileOp(ctx context.Context, operation, path, content string) (any, error) {
	abs, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	switch operation {
	case "read":
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return map[string]any{"path": path, "content": string(data)}, nil
	case "list":
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return map[string]any{"path": path, "entries": names}, nil
	case "create":
		if _, err := os.Stat(abs); err == nil {
			return nil, fmt.Errorf("create %s: file already exists", path)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		return map[string]any{"path": path, "created": true}, nil
	case "modify":
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("modify %s: %w", path, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("modify %s: %w", path, err)
		}
		return map[string]any{"path": path, "modified": true}, nil
	case "delete":
		if err := os.Remove(abs); err != nil {
			return nil, fmt.Errorf("delete %s: %w", path, err)
		}
		return map[string]any{"path": path, "deleted": true}, nil
	default:
		return nil, domain.NewBridgeError(bridgeproto.CodeUnknownCommand,
			"unknown file operation %q", operation)
	}
}

// RunNamedCommand invokes a registered command by name. An unregistered
// name is an unknown-command error.
func (l *Local) RunNamedCommand(ctx context.Context, name string, args []string) (any, error) {
	l.mu.RLock()
	fn := l.commands[name]
	l.mu.RUnlock()
	if fn == nil {
		return nil, domain.NewBridgeError(bridgeproto.CodeUnknownCommand,
			"unknown command %q", name)
	}
	return fn(ctx, args)
}

// GetContext returns a snapshot of editor context. An unrecognized
// contextType is an unknown-command error.
func (l *Local) GetContext(ctx context.Context, contextType string) (any, error) {
	switch contextType {
	case "workspace":
		entries, err := os.ReadDir(l.root)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, e := range entries {
			files = append(files, e.Name())
		}
		return map[string]any{"root": l.root, "topLevel": files}, nil
	case "environment":
		return map[string]any{
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
			"upSince":  l.started.UnixMilli(),
			"hostname": hostname(),
		}, nil
	default:
		return nil, domain.NewBridgeError(bridgeproto.CodeUnknownCommand,
			"unknown context type %q", contextType)
	}
}

// resolve maps a request path to an absolute path under the root,
// rejecting anything that would escape it.
func (l *Local) resolve(path string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(path, "/"))
	if cleaned == "." {
		return l.root, nil
	}
	if !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return filepath.Join(l.root, cleaned), nil
}

// search finds files whose base name matches the glob pattern, capped to
// keep responses bounded.
func (l *Local) search(ctx context.Context, pattern string) (any, error) {
	const maxResults = 200
	var matches []string
	err := filepath.WalkDir(l.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			rel, _ := filepath.Rel(l.root, p)
			matches = append(matches, rel)
			if len(matches) >= maxResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return map[string]any{"pattern": pattern, "matches": matches}, nil
}

func (l *Local) registerBuiltins() {
	l.commands["echo"] = func(_ context.Context, args []string) (any, error) {
		return map[string]any{"output": strings.Join(args, " ")}, nil
	}
	l.commands["workspace.path"] = func(_ context.Context, _ []string) (any, error) {
		return map[string]any{"root": l.root}, nil
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
