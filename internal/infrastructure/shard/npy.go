package shard

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
)

// readNpyMatrix reads a 2-D .npy file into a flat row-major []float32.
// Both float32 and float64 payloads are accepted.
func readNpyMatrix(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, 0, fmt.Errorf("npy header %s: %w", path, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, 0, fmt.Errorf("npy %s: want 2-D matrix, got shape %v", path, shape)
	}
	dim := shape[1]

	var data []float32
	if err := r.Read(&data); err != nil {
		var wide []float64
		f2, openErr := os.Open(path)
		if openErr != nil {
			return nil, 0, err
		}
		defer f2.Close()
		r2, hdrErr := npyio.NewReader(f2)
		if hdrErr != nil {
			return nil, 0, err
		}
		if readErr := r2.Read(&wide); readErr != nil {
			return nil, 0, fmt.Errorf("npy %s: %w", path, err)
		}
		data = make([]float32, len(wide))
		for i, v := range wide {
			data[i] = float32(v)
		}
	}

	if dim > 0 && len(data)%dim != 0 {
		return nil, 0, fmt.Errorf("npy %s: %d values not divisible by dim %d", path, len(data), dim)
	}
	return data, dim, nil
}
