//go:build unix

package transport

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// shmRegion is a file mapped into memory and locked with flock. The mutex
// serializes goroutines of this process, flock serializes processes.
type shmRegion struct {
	mu   sync.Mutex
	f    *os.File
	data []byte
}

func openRegion(path string, size int, create bool) (*shmRegion, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "open %s: %v", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrTransport, "stat %s: %v", path, err)
	}
	if info.Size() < int64(size) {
		if !create {
			f.Close()
			return nil, errors.Wrapf(ErrTransport, "%s holds %d bytes, needs %d", path, info.Size(), size)
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, errors.Wrapf(ErrTransport, "truncate %s: %v", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrTransport, "mmap %s: %v", path, err)
	}
	return &shmRegion{f: f, data: data}, nil
}

func (r *shmRegion) Lock() error {
	r.mu.Lock()
	if err := unix.Flock(int(r.f.Fd()), unix.LOCK_EX); err != nil {
		r.mu.Unlock()
		return errors.Wrapf(ErrTransport, "flock %s: %v", r.f.Name(), err)
	}
	return nil
}

func (r *shmRegion) Unlock() error {
	defer r.mu.Unlock()
	if err := unix.Flock(int(r.f.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrapf(ErrTransport, "unlock %s: %v", r.f.Name(), err)
	}
	return nil
}

func (r *shmRegion) Bytes() []byte { return r.data }

func (r *shmRegion) Close() error {
	var first error
	if r.data != nil {
		first = unix.Munmap(r.data)
		r.data = nil
	}
	if err := r.f.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// OpenShared maps the named regions under dir. An empty control name opens an
// unmanaged transport. With create set, missing files are created and sized;
// otherwise every region must already exist.
func OpenShared(dir string, names Names, create bool) (*Endpoint, error) {
	if names.Environment == "" || names.Action == "" {
		return nil, errors.Wrap(ErrTransport, "environment and action names are required")
	}

	env, err := openRegion(filepath.Join(dir, names.Environment), EnvironmentSize, create)
	if err != nil {
		return nil, err
	}
	act, err := openRegion(filepath.Join(dir, names.Action), ActionSize, create)
	if err != nil {
		env.Close()
		return nil, err
	}
	if names.Control == "" {
		return NewEndpoint(env, act, nil), nil
	}
	ctl, err := openRegion(filepath.Join(dir, names.Control), ControlSize, create)
	if err != nil {
		env.Close()
		act.Close()
		return nil, err
	}
	return NewEndpoint(env, act, ctl), nil
}
