package toolserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Workspace confines file tools to one directory tree.
type Workspace struct {
	root string
}

// NewWorkspace resolves root to an absolute, symlink-free path.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &Workspace{root: abs}, nil
}

// resolve maps a relative or absolute path into the workspace and rejects
// anything that escapes it.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		// Writes may target a file that does not exist yet.
		resolved = filepath.Clean(p)
	}
	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", path)
	}
	return resolved, nil
}

type pathInput struct {
	Path string `json:"path" jsonschema:"description=File or directory path, relative to the workspace"`
}

type writeInput struct {
	Path    string `json:"path" jsonschema:"description=File path to write"`
	Content string `json:"content" jsonschema:"description=Content to write"`
}

type editInput struct {
	Path    string `json:"path" jsonschema:"description=File path to edit"`
	OldText string `json:"old_text" jsonschema:"description=Exact text to replace; must occur once"`
	NewText string `json:"new_text" jsonschema:"description=Replacement text"`
}

func (w *Workspace) Tools() []Tool {
	return []Tool{
		NewTool("read_file", "Read the contents of a file", w.readFile),
		NewTool("write_file", "Write content to a file, creating parent directories as needed", w.writeFile),
		NewTool("edit_file", "Replace old_text with new_text in a file; old_text must occur exactly once", w.editFile),
		NewTool("list_dir", "List the contents of a directory", w.listDir),
	}
}

func (w *Workspace) readFile(_ context.Context, in pathInput) (any, error) {
	fp, err := w.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fp)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", in.Path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a file: %s", in.Path)
	}
	data, err := os.ReadFile(fp)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (w *Workspace) writeFile(_ context.Context, in writeInput) (any, error) {
	fp, err := w.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(fp, []byte(in.Content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path), nil
}

func (w *Workspace) editFile(_ context.Context, in editInput) (any, error) {
	fp, err := w.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", in.Path)
	}
	content := string(data)

	switch n := strings.Count(content, in.OldText); {
	case in.OldText == "" || n == 0:
		return nil, fmt.Errorf("old_text not found in %s", in.Path)
	case n > 1:
		return nil, fmt.Errorf("old_text appears %d times in %s; add context to make it unique", n, in.Path)
	}

	updated := strings.Replace(content, in.OldText, in.NewText, 1)
	if err := os.WriteFile(fp, []byte(updated), 0o644); err != nil {
		return nil, err
	}
	return "edited " + in.Path, nil
}

func (w *Workspace) listDir(_ context.Context, in pathInput) (any, error) {
	dp, err := w.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dp)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s", in.Path)
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "[F] "
		if e.IsDir() {
			prefix = "[D] "
		}
		lines = append(lines, prefix+e.Name())
	}
	slices.Sort(lines)
	if len(lines) == 0 {
		return fmt.Sprintf("directory %s is empty", in.Path), nil
	}
	return strings.Join(lines, "\n"), nil
}

// Files is the built-in server offering file tools rooted at root.
func Files(version, root string) (*Server, error) {
	ws, err := NewWorkspace(root)
	if err != nil {
		return nil, err
	}
	return New("toolrelay-files", version, ws.Tools()...), nil
}
