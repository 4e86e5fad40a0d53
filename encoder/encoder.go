// Package encoder drives the LOD-ordered, cancelable, parallel traversal
// that populates a tileset.TileSet from a caller-supplied generate
// callback (spec §4.6), grounded on the pyramid-generation shape of
// other_examples' geotiff2pmtiles tile.Generate: process one LOD's jobs
// concurrently across a fixed worker pool, let each level's output seed
// the next, single-thread the final aggregation pass.
//
// Unlike that reference (which walks a flat LOD-then-tile job queue
// bottom-up), the traversal here is parent-first and dependency-driven:
// a node is only visited once its parent has resolved, since a parent's
// TileResult is visible to its children's generate call (spec §5
// ordering guarantee (b)). Concurrency is therefore expressed as
// concurrent recursion over sibling subtrees, bounded by a
// golang.org/x/sync/semaphore.Weighted, with an errgroup.Group collecting
// the first error/cancellation.
package encoder

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opentiles/tilestore/refframe"
	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tilelog"
	"github.com/opentiles/tilestore/tileset"
)

// ResultKind classifies what a generate callback produced for one tile
// (spec §4.6: TileResult ∈ {data(tile), noDataYet, noData}).
type ResultKind int

const (
	// NoData means nothing exists at this tile or below; prune the subtree.
	NoData ResultKind = iota
	// NoDataYet means this tile itself has no content, but children might.
	NoDataYet
	// Data means tile/nav hold the content to write for this tile.
	Data
)

// TileResult is the outcome of one generate call.
type TileResult struct {
	Kind ResultKind
	Tile tileset.Tile
	Nav  *tileset.NavTile
}

// GenerateFunc produces content for id, given its NodeInfo and the result
// already computed for its parent (the zero TileResult at the traversal
// roots).
type GenerateFunc func(ctx context.Context, id tileid.ID, info refframe.NodeInfo, parent TileResult) (TileResult, error)

// Options tunes the traversal.
type Options struct {
	// Concurrency bounds how many generate calls run at once. Defaults to
	// 4 if <= 0.
	Concurrency int
	// QueueDepth bounds the write queue between generator goroutines and
	// the single TileSet writer (spec §5 "bounded write queue ... overflow
	// blocks generators"). Defaults to 2*Concurrency if <= 0.
	QueueDepth int
	// HeightMapTileSize is the per-tile raster resolution the height-map
	// accumulator uses for navtile aggregation. Defaults to 64 if <= 0.
	HeightMapTileSize int
	Log               tilelog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 2 * o.Concurrency
	}
	if o.HeightMapTileSize <= 0 {
		o.HeightMapTileSize = 64
	}
	if o.Log == nil {
		o.Log = tilelog.Default()
	}
	return o
}

type writeJob struct {
	id   tileid.ID
	info refframe.NodeInfo
	tile tileset.Tile
	nav  *tileset.NavTile
}

// Run traverses lodRange over ts's reference frame, invoking generate
// depth-first pre-order from each mounted root, and returns once every
// reachable tile has been generated, written, and finish(ts) has run
// (spec §4.6). A canceled ctx aborts the traversal; Run still flushes
// whatever was written before the cancellation was observed and returns a
// tileerror.Cancelled error.
func Run(ctx context.Context, ts *tileset.TileSet, lodRange tileid.LodRange, generate GenerateFunc, opts Options) error {
	opts = opts.withDefaults()
	if lodRange.Empty() {
		return nil
	}

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	writeCh := make(chan writeJob, opts.QueueDepth)
	accum := newHeightAccumulator(opts.HeightMapTileSize)

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- runWriter(ts, writeCh, accum)
	}()

	group, gctx := errgroup.WithContext(ctx)
	for _, srs := range ts.Frame().SRSList() {
		root, ok := ts.Frame().RootNode(srs)
		if !ok {
			continue
		}
		group.Go(func() error {
			return walk(gctx, ts.Frame(), root, TileResult{}, lodRange, generate, sem, writeCh)
		})
	}

	walkErr := group.Wait()
	close(writeCh)
	writeErr := <-writerDone

	if ctx.Err() != nil {
		// finish still runs: spec §5 "flush() completes current write
		// before propagating a cancel result".
		if err := finish(ts, accum); err != nil {
			return err
		}
		return tileerror.New(tileerror.Cancelled, "encoder: cancelled during traversal")
	}
	if walkErr != nil {
		return walkErr
	}
	if writeErr != nil {
		return writeErr
	}

	if err := finish(ts, accum); err != nil {
		return err
	}
	opts.Log.WithField("lodRange", lodRange).Debug("encoder: run complete")
	return nil
}

// walk visits info and, unless generate returned NoData, its four
// children, recursing concurrently; sem bounds how many generate calls run
// at once.
func walk(ctx context.Context, frame *refframe.Frame, info refframe.NodeInfo, parent TileResult, lodRange tileid.LodRange, generate GenerateFunc, sem *semaphore.Weighted, writeCh chan<- writeJob) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if info.Node.Lod < lodRange.Min {
		// Below the traversal floor: descend without generating.
		return descend(ctx, frame, info, parent, lodRange, generate, sem, writeCh)
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	result, err := generate(ctx, info.Node, info, parent)
	sem.Release(1)
	if err != nil {
		return err
	}
	if result.Kind == Data {
		select {
		case writeCh <- writeJob{id: info.Node, info: info, tile: result.Tile, nav: result.Nav}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if result.Kind == NoData {
		return nil
	}
	if info.Node.Lod >= lodRange.Max {
		return nil
	}
	return descend(ctx, frame, info, result, lodRange, generate, sem, writeCh)
}

func descend(ctx context.Context, frame *refframe.Frame, info refframe.NodeInfo, result TileResult, lodRange tileid.LodRange, generate GenerateFunc, sem *semaphore.Weighted, writeCh chan<- writeJob) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, idx := range [4]tileid.ChildIndex{tileid.LL, tileid.LR, tileid.UL, tileid.UR} {
		child, ok := frame.Child(info, idx)
		if !ok {
			continue
		}
		group.Go(func() error {
			return walk(gctx, frame, child, result, lodRange, generate, sem, writeCh)
		})
	}
	return group.Wait()
}

// runWriter is the single TileSet writer goroutine: it serializes every
// write through ts (whose metatile cache and tileindex are not
// concurrency-safe) and folds navtile heights into accum as they arrive.
func runWriter(ts *tileset.TileSet, writeCh <-chan writeJob, accum *heightAccumulator) error {
	for job := range writeCh {
		if err := ts.SetTile(job.id, job.tile, job.info); err != nil {
			return err
		}
		if job.nav != nil {
			if err := ts.SetNavTile(job.id, *job.nav); err != nil {
				return err
			}
			accum.absorb(job.id, *job.nav)
		}
	}
	return nil
}

// finish runs single-threaded after traversal completes (spec §4.6):
// it emits the downsampled navtile pyramid bottom-up from accum, then
// flushes ts.
func finish(ts *tileset.TileSet, accum *heightAccumulator) error {
	for lod := accum.maxLod(); lod > 0; lod-- {
		parents := accum.resize(lod)
		for id, raster := range parents {
			nav := rasterToNavTile(accum.tileSize, raster)
			if err := ts.SetNavTile(id, nav); err != nil && tileerror.KindOf(err) != tileerror.InconsistentInput {
				return err
			}
		}
	}
	return ts.Flush()
}
