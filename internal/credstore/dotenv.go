package credstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

// DotenvStore keeps credentials as KEY=value lines in a dotenv file.
// Unrelated lines already in the file are preserved.
type DotenvStore struct {
	path string
}

var _ Store = (*DotenvStore)(nil)

// NewDotenvStore creates a DotenvStore for path, creating parent directories with 0700
// permissions if they don't exist.
func NewDotenvStore(path string) (*DotenvStore, error) {
	if path == "" {
		return nil, fmt.Errorf("env file path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	return &DotenvStore{path: path}, nil
}

// Path returns the file the store writes to.
func (d *DotenvStore) Path() string { return d.path }

// Read parses the file and returns the credentials in it.
func (d *DotenvStore) Read(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	values, err := godotenv.Read(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: %s does not exist", shared.ErrMissingCredentials, d.path)
		}
		return Credentials{}, err
	}

	creds := fromEnv(values)
	if !creds.Complete() {
		return Credentials{}, fmt.Errorf("%w: incomplete credentials in %s", shared.ErrMissingCredentials, d.path)
	}
	return creds, nil
}

// Write appends the credentials to the file, dropping any earlier assignments of the same keys.
// The file is created with 0600 permissions if it does not exist.
func (d *DotenvStore) Write(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	values := creds.Env()
	kept, err := d.linesWithout(values)
	if err != nil {
		return err
	}

	block, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	content := strings.Join(append(kept, block), "\n") + "\n"
	if err := os.WriteFile(d.path, []byte(content), 0600); err != nil {
		return err
	}
	return os.Chmod(d.path, 0600)
}

// linesWithout returns the existing file lines minus assignments to any key in values.
// Trailing blank lines are dropped.
func (d *DotenvStore) linesWithout(values map[string]string) ([]string, error) {
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if _, ok := values[assignedKey(line)]; ok {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// assignedKey returns the variable a dotenv line assigns, or "" for comments and blanks.
func assignedKey(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	line = strings.TrimPrefix(line, "export ")

	idx := strings.IndexAny(line, "=:")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[:idx])
}

// EnsureIgnored adds entry to the gitignore file at path unless an equivalent rule exists.
// It reports whether the file was changed.
func EnsureIgnored(path, entry string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	for line := range strings.SplitSeq(string(data), "\n") {
		rule := strings.TrimSpace(line)
		if rule == entry || rule == "/"+entry {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		return false, err
	}
	return true, nil
}
