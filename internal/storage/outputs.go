package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// OutputExtension is the file extension of published exports.
const OutputExtension = ".mp4"

// ErrOutputNotFound is returned when a job has no published output.
var ErrOutputNotFound = errors.New("output not found")

// OutputStore keeps finished export containers, one file per job ID.
type OutputStore struct {
	sandbox *Sandbox
}

// NewOutputStore creates an OutputStore rooted at dir.
func NewOutputStore(dir string) (*OutputStore, error) {
	sb, err := NewSandbox(dir)
	if err != nil {
		return nil, err
	}
	return &OutputStore{sandbox: sb}, nil
}

// Dir returns the absolute output directory.
func (o *OutputStore) Dir() string {
	return o.sandbox.BaseDir()
}

func (o *OutputStore) name(jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return jobID + OutputExtension, nil
}

// Save writes the container read from r for jobID and returns its size.
func (o *OutputStore) Save(jobID string, r io.Reader) (int64, error) {
	name, err := o.name(jobID)
	if err != nil {
		return 0, err
	}
	if err := o.sandbox.AtomicWriteReader(name, r); err != nil {
		return 0, fmt.Errorf("saving output %s: %w", jobID, err)
	}
	return o.sandbox.Size(name)
}

// Open opens the output for jobID.
func (o *OutputStore) Open(jobID string) (*os.File, int64, error) {
	name, err := o.name(jobID)
	if err != nil {
		return nil, 0, err
	}
	info, err := o.sandbox.Stat(name)
	if err != nil {
		return nil, 0, ErrOutputNotFound
	}
	f, err := o.sandbox.Open(name)
	if err != nil {
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Path returns the absolute path of the output for jobID.
func (o *OutputStore) Path(jobID string) (string, error) {
	name, err := o.name(jobID)
	if err != nil {
		return "", err
	}
	return o.sandbox.ResolvePath(name)
}

// Delete removes the output for jobID. Missing outputs are not an error.
func (o *OutputStore) Delete(jobID string) error {
	name, err := o.name(jobID)
	if err != nil {
		return err
	}
	exists, err := o.sandbox.Exists(name)
	if err != nil || !exists {
		return err
	}
	return o.sandbox.Remove(name)
}

// PruneOlderThan removes outputs last modified before cutoff and returns the
// job IDs removed.
func (o *OutputStore) PruneOlderThan(cutoff time.Time) ([]string, error) {
	entries, err := o.sandbox.List(".")
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), OutputExtension) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := o.sandbox.Remove(e.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, strings.TrimSuffix(e.Name(), OutputExtension))
	}
	return removed, errors.Join(errs...)
}
