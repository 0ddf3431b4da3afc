package xdh

import (
	"os"

	"github.com/pkg/errors"

	"github.com/fumin/xdh/tensor"
)

// cache memoizes named tensors for the lifetime of a gradient computation.
// Tensors of at least spill bytes are kept in store instead of memory, when store is not nil.
type cache struct {
	mem     map[string]*tensor.Dense
	spilled map[string]bool
	store   *tensor.DiskStore
	spill   int
}

func newCache(scratchDir string, spill int) (*cache, error) {
	c := &cache{mem: make(map[string]*tensor.Dense), spilled: make(map[string]bool), spill: spill}
	if scratchDir == "" {
		return c, nil
	}

	f, err := os.CreateTemp(scratchDir, "xdh-*.sqlite")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.store, err = tensor.NewDiskStore(f.Name())
	if err != nil {
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "")
	}
	return c, nil
}

// get returns the tensor called name, calling compute on the first request.
func (c *cache) get(name string, compute func() (*tensor.Dense, error)) (*tensor.Dense, error) {
	if t, ok := c.mem[name]; ok {
		return t, nil
	}
	if c.spilled[name] {
		t, ok, err := c.store.Load(name)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if !ok {
			return nil, errors.Errorf("%s missing from %s", name, c.store.Path)
		}
		return t, nil
	}

	t, err := compute()
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if c.store != nil && 8*t.Size() >= c.spill {
		if err := c.store.Save(name, t); err != nil {
			return nil, errors.Wrap(err, "")
		}
		c.spilled[name] = true
		return t, nil
	}
	c.mem[name] = t
	return t, nil
}

// close releases all tensors and removes the spill store.
func (c *cache) close() error {
	clear(c.mem)
	if c.store == nil {
		return nil
	}
	err := c.checkStore()
	clear(c.spilled)
	if err1 := c.store.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	c.store = nil
	return err
}

// checkStore checks that every spilled tensor is still in the store.
func (c *cache) checkStore() error {
	names, err := c.store.Names()
	if err != nil {
		return errors.Wrap(err, "")
	}
	if len(names) != len(c.spilled) {
		return errors.Errorf("%d tensors in %s, %d spilled", len(names), c.store.Path, len(c.spilled))
	}
	for _, name := range names {
		if !c.spilled[name] {
			return errors.Errorf("unexpected %s in %s", name, c.store.Path)
		}
	}
	return nil
}
