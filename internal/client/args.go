package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNoArgs      = errors.New("no files or directories given")
	ErrMissing     = errors.New("not found or not accessible")
	ErrUnsupported = errors.New("not a regular file or directory")
)

// ArgError reports which command-line argument could not be used.
type ArgError struct {
	Arg string
	Err error
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("cannot share %q: %v", e.Arg, e.Err)
}

func (e *ArgError) Unwrap() error {
	return e.Err
}

// Target is a local file or directory selected for upload.
type Target struct {
	Path  string
	IsDir bool
}

// ResolveArgs stats every argument. Symlinks are followed; devices, sockets
// and pipes are rejected. An argument given twice is only kept once.
func ResolveArgs(args []string) ([]Target, error) {
	if len(args) == 0 {
		return nil, ErrNoArgs
	}

	targets := make([]Target, 0, len(args))
	seen := make(map[string]struct{}, len(args))

	for _, arg := range args {
		p := filepath.Clean(arg)

		info, err := os.Stat(p)
		if err != nil {
			return nil, &ArgError{Arg: arg, Err: ErrMissing}
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil, &ArgError{Arg: arg, Err: ErrUnsupported}
		}

		key := p
		if abs, err := filepath.Abs(p); err == nil {
			key = abs
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		targets = append(targets, Target{Path: p, IsDir: info.IsDir()})
	}

	return targets, nil
}
