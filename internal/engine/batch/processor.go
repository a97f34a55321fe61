package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Common batch processing errors.
var (
	ErrNilCallback = errors.New("batch callback cannot be nil")
	ErrEmptyItems  = errors.New("items slice cannot be empty")
)

// BatchCallback is a function that processes a single batch of items.
// It receives the batch items, batch index (0-based), and should return an error if processing fails.
//
//nolint:revive // BatchCallback is the canonical name for this exported type.
type BatchCallback[T any] func(ctx context.Context, batch []T, batchIndex int) error

// ItemFunc processes one item. index is the item's position in the full input.
// A returned error marks the item as failed in Progress; it does not stop the batch.
type ItemFunc[T any] func(ctx context.Context, item T, index int) error

// ProgressCallback is an optional callback invoked after each item and each batch completes.
// It receives a snapshot so receivers never race with the processor.
type ProgressCallback func(snapshot ProgressSnapshot)

// Processor splits items into order-preserving batches sized by a Sizer.
// Batches always run one after another.
type Processor[T any] struct {
	sizer Sizer

	// onProgress is an optional callback for progress updates.
	onProgress ProgressCallback

	// mu serializes progress callbacks coming from concurrent items.
	mu sync.Mutex
}

// NewProcessor creates a new batch processor with the given sizer.
func NewProcessor[T any](sizer Sizer) (*Processor[T], error) {
	if err := sizer.Validate(); err != nil {
		return nil, err
	}

	return &Processor[T]{
		sizer: sizer,
	}, nil
}

// NewProcessorWithDefaults creates a processor that uses DefaultSizer.
func NewProcessorWithDefaults[T any]() *Processor[T] {
	return &Processor[T]{
		sizer: DefaultSizer(),
	}
}

// WithProgressCallback sets a progress callback for the processor.
func (p *Processor[T]) WithProgressCallback(callback ProgressCallback) *Processor[T] {
	p.onProgress = callback
	return p
}

// Sizer returns the processor's sizing configuration.
func (p *Processor[T]) Sizer() Sizer {
	return p.sizer
}

// Process processes items in batches using the provided callback.
// Processing is sequential and stops on the first error.
func (p *Processor[T]) Process(ctx context.Context, items []T, callback BatchCallback[T]) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}

	if callback == nil {
		return ErrNilCallback
	}

	for batchIndex, bounds := range p.CalculateBatches(len(items)) {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := callback(ctx, items[bounds[0]:bounds[1]], batchIndex); err != nil {
			return fmt.Errorf("batch %d failed: %w", batchIndex, err)
		}
	}

	return nil
}

// ProcessEach runs fn for every item. Batches run sequentially; all items of a
// batch run concurrently and are joined before the next batch starts.
//
// Item errors are recorded in Progress only: they never cancel siblings in the
// same batch nor later batches. The returned error is non-nil only for invalid
// arguments or when ctx is canceled between batches.
func (p *Processor[T]) ProcessEach(ctx context.Context, items []T, fn ItemFunc[T]) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}

	if fn == nil {
		return ErrNilCallback
	}

	batches := p.CalculateBatches(len(items))
	progress := NewProgress(len(items), len(batches), p.BatchSize(len(items)))

	return p.Process(ctx, items, func(ctx context.Context, batch []T, batchIndex int) error {
		offset := batches[batchIndex][0]
		progress.StartBatch(batchIndex)

		g, gCtx := errgroup.WithContext(ctx)
		for i, item := range batch {
			g.Go(func() error {
				err := fn(gCtx, item, offset+i)
				progress.AddItem(err == nil)
				p.notify(progress)
				// Always return nil - one item failure must not cancel the others
				return nil
			})
		}
		_ = g.Wait()

		progress.CompleteBatch()
		p.notify(progress)
		return nil
	})
}

// BatchSize returns the batch size the sizer yields for totalItems.
func (p *Processor[T]) BatchSize(totalItems int) int {
	return p.sizer.BatchSize(totalItems)
}

// CalculateBatches returns the batch boundaries for the given items.
// Returns a slice of [start, end) index pairs.
func (p *Processor[T]) CalculateBatches(totalItems int) [][2]int {
	if totalItems <= 0 {
		return nil
	}

	batchSize := p.BatchSize(totalItems)
	totalBatches := calculateTotalBatches(totalItems, batchSize)
	batches := make([][2]int, totalBatches)

	for i := range totalBatches {
		start := i * batchSize
		end := min(start+batchSize, totalItems)
		batches[i] = [2]int{start, end}
	}

	return batches
}

// calculateTotalBatches calculates the number of batches needed for the given item count.
func calculateTotalBatches(totalItems, batchSize int) int {
	batches := totalItems / batchSize
	if totalItems%batchSize > 0 {
		batches++
	}
	return batches
}

// notify safely invokes the progress callback.
func (p *Processor[T]) notify(progress *Progress) {
	if p.onProgress == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProgress(progress.Snapshot())
}
