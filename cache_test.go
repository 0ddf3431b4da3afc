package xdh

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fumin/xdh/tensor"
)

func TestCache(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spill   int
		spilled []string
	}{
		{spill: 1 << 20},
		{spill: 16, spilled: []string{"big"}},
		{spill: 1, spilled: []string{"big", "small"}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d", test.spill), func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			c, err := newCache(dir, test.spill)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			tensors := map[string]*tensor.Dense{
				"big":   tensor.New([]float64{1, 2, 3, 4}, 2, 2),
				"small": tensor.Scalar(5),
			}
			for name, want := range tensors {
				for range 2 {
					calls := 0
					got, err := c.get(name, func() (*tensor.Dense, error) {
						calls++
						return want.Clone(), nil
					})
					if err != nil {
						t.Fatalf("%+v", err)
					}
					if !got.EqualApprox(want, 0) || calls > 1 {
						t.Fatalf("%s %v %d", name, got, calls)
					}
				}
			}
			names, err := c.store.Names()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if fmt.Sprint(names) != fmt.Sprint(test.spilled) {
				t.Fatalf("%v, expected %v", names, test.spilled)
			}

			path := c.store.Path
			if err := c.close(); err != nil {
				t.Fatalf("%+v", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestCacheLostTensor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := newCache(dir, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.store.Save("stray", tensor.Scalar(1)); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.close(); err == nil {
		t.Fatalf("expected error")
	}
	if m, _ := filepath.Glob(filepath.Join(dir, "xdh-*.sqlite")); len(m) != 0 {
		t.Fatalf("%v", m)
	}
}
