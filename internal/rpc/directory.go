package rpc

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

// ErrNoEndpoints indicates the directory has no address for a service.
var ErrNoEndpoints = errors.New("rpc: no endpoints available")

// Directory maps a service name ("users") to a reachable address
// (host:port). Implementations should be safe for concurrent use.
type Directory interface {
	Address(ctx context.Context, service string) (string, error)
}

// StaticDirectory is a Directory backed by an in-memory map. The key "*"
// is used for services without their own entry.
type StaticDirectory struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticDirectory(m map[string][]string) *StaticDirectory {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		vv := make([]string, len(v))
		copy(vv, v)
		cp[k] = vv
	}
	return &StaticDirectory{data: cp}
}

// Set replaces the addresses of service.
func (d *StaticDirectory) Set(service string, addrs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[service] = append([]string(nil), addrs...)
}

// Address picks one of the addresses of service at random.
func (d *StaticDirectory) Address(ctx context.Context, service string) (string, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	arr := d.data[service]
	if len(arr) == 0 {
		arr = d.data["*"]
	}
	if len(arr) == 0 {
		return "", ErrNoEndpoints
	}
	if len(arr) == 1 {
		return arr[0], nil
	}
	return arr[rand.Intn(len(arr))], nil
}
