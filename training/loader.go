package training

import (
	"fmt"
	"math/rand"

	"github.com/tlanc/masklearn/tensor"
)

// Batch stacks samples for one iteration. Images are [N, H, W, 2]; CoilMaps
// are [N, C, H, W, 2] or nil for single-coil data. Scales carries the
// per-sample scale factors; Indices the dataset positions the batch came
// from.
type Batch struct {
	Images   *tensor.Tensor
	CoilMaps *tensor.Tensor
	Scales   []float64
	Indices  []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return b.Images.Shape[0] }

// Loader provides sequential batching with optional per-epoch shuffling. All
// batches of an epoch are consumed strictly in order; there is no concurrent
// iteration.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewLoader creates a loader over a dataset. The shuffle order is
// deterministic per seed.
func NewLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &Loader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Reset starts a new epoch, reshuffling when enabled.
func (l *Loader) Reset() {
	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// Next returns the next batch, or nil when the epoch is complete.
func (l *Loader) Next() (*Batch, error) {
	if l.position >= len(l.indices) {
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	idx := l.indices[l.position:end]
	l.position = end
	return l.stack(idx)
}

// stack materializes one batch, checking that every sample agrees on image
// and coil-map shape.
func (l *Loader) stack(idx []int) (*Batch, error) {
	first, err := l.dataset.Get(idx[0])
	if err != nil {
		return nil, err
	}
	h, w := first.Image.Shape[0], first.Image.Shape[1]
	n := len(idx)

	images, err := tensor.Zeros([]int{n, h, w, 2})
	if err != nil {
		return nil, err
	}
	var maps *tensor.Tensor
	coils := 0
	if first.CoilMaps != nil {
		coils = first.CoilMaps.Shape[0]
		maps, err = tensor.Zeros([]int{n, coils, h, w, 2})
		if err != nil {
			return nil, err
		}
	}

	batch := &Batch{Images: images, CoilMaps: maps, Scales: make([]float64, n), Indices: append([]int{}, idx...)}
	for i, di := range idx {
		s, err := l.dataset.Get(di)
		if err != nil {
			return nil, err
		}
		if !tensor.ShapesEqual(s.Image.Shape, []int{h, w, 2}) {
			return nil, fmt.Errorf("sample %d image shape %v differs from batch shape [%d %d 2]", di, s.Image.Shape, h, w)
		}
		copy(images.Data[i*h*w*2:(i+1)*h*w*2], s.Image.Data)
		if maps != nil {
			if s.CoilMaps == nil || !tensor.ShapesEqual(s.CoilMaps.Shape, []int{coils, h, w, 2}) {
				return nil, fmt.Errorf("sample %d coil maps disagree with batch layout", di)
			}
			per := coils * h * w * 2
			copy(maps.Data[i*per:(i+1)*per], s.CoilMaps.Data)
		}
		batch.Scales[i] = s.Scale
	}
	return batch, nil
}
