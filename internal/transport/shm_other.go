//go:build !unix

package transport

import "github.com/pkg/errors"

// OpenShared is unavailable on this platform.
func OpenShared(dir string, names Names, create bool) (*Endpoint, error) {
	return nil, errors.Wrap(ErrTransport, "shared memory regions need a unix system")
}
