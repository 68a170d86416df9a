// Package paginate reassembles long result sets from the KIS API, which
// caps every call to a small page and continues either by retrying with a
// narrower date window or by echoing opaque cursor tokens.
//
// Both walks accumulate newest-first, exactly as pages arrive. Dedup keys
// guard the window edges, where the upstream likes to repeat the boundary
// record on adjacent pages. Limit truncation keeps the most recent records
// and happens before the single final reversal, so cursor math is never
// affected by the caller's requested ordering.
package paginate

import (
	"context"
	"time"
)

// Raw is one upstream record, untouched. Every KIS field arrives as a
// string and stays one until the mapper stage; the engine never parses
// prices.
type Raw map[string]string

// DateWalk walks backward through calendar time. Each page covers dates at
// or before the current cursor end; the next cursor is derived from the
// oldest record fetched so far.
type DateWalk struct {
	// Fetch retrieves the page ending at end (inclusive).
	Fetch func(ctx context.Context, end time.Time) ([]Raw, error)
	// DateOf extracts the record timestamp used for windowing and cursors.
	DateOf func(Raw) (time.Time, error)
	// KeyOf extracts the natural dedup key.
	KeyOf func(Raw) string
	// Start bounds the window below; nil means unbounded into the past.
	Start *time.Time
	// End bounds the window above; the walk clamps it to Now.
	End time.Time
	// Limit caps the accumulated record count; 0 means unbounded.
	Limit int
	// Ascending requests oldest-first output.
	Ascending bool
	// Now is replaceable for tests; defaults to time.Now.
	Now func() time.Time
}

// Run executes the walk. Any page error aborts with no partial result.
func (w *DateWalk) Run(ctx context.Context) ([]Raw, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	cur := w.End
	if n := now(); cur.IsZero() || cur.After(n) {
		cur = n
	}

	var acc []Raw
	seen := make(map[string]struct{})

	for w.Start == nil || !cur.Before(*w.Start) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := w.Fetch(ctx, cur)
		if err != nil {
			return nil, err
		}

		var oldest time.Time
		kept := 0
		for _, rec := range page {
			d, err := w.DateOf(rec)
			if err != nil {
				return nil, err
			}
			if oldest.IsZero() || d.Before(oldest) {
				oldest = d
			}
			if w.Start != nil && d.Before(*w.Start) {
				continue
			}
			if d.After(w.End) && !w.End.IsZero() {
				continue
			}
			kept++
			key := w.KeyOf(rec)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			acc = append(acc, rec)
		}
		if kept == 0 {
			break // exhausted
		}
		if w.Limit > 0 && len(acc) >= w.Limit {
			break
		}
		cur = oldest.AddDate(0, 0, -1)
	}

	return finalize(acc, w.Limit, w.Ascending), nil
}

// Cursor is the continuation state echoed between pages. The FK/NK pair is
// opaque; Seed carries the KEYB-style timestamp cursor used by the minute
// endpoints.
type Cursor struct {
	FK   string
	NK   string
	Seed string
	// First is true only for the initial request of a walk.
	First bool
}

// CursorPage is one fetched page plus its continuation state.
type CursorPage struct {
	Items []Raw
	Next  Cursor
	// Done is the upstream's "no more pages" sentinel.
	Done bool
}

// CursorWalk walks a cursor-continued endpoint.
type CursorWalk struct {
	Fetch func(ctx context.Context, cur Cursor) (CursorPage, error)
	KeyOf func(Raw) string
	// Keep filters each record against the target window; nil keeps all.
	Keep func(Raw) (bool, error)
	// Match stops the walk at the first record matching a target
	// identifier, returning only the matches from that page. Nil walks
	// the whole range.
	Match func(Raw) bool
	// Seed pre-positions the cursor for the first request.
	Seed      string
	Limit     int
	Ascending bool
}

// Run executes the walk. Pages are fetched strictly sequentially; each
// request's cursor is causally derived from the previous response.
func (w *CursorWalk) Run(ctx context.Context) ([]Raw, error) {
	cur := Cursor{First: true, Seed: w.Seed}

	var acc []Raw
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := w.Fetch(ctx, cur)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}

		if w.Match != nil {
			var matches []Raw
			for _, rec := range page.Items {
				if w.Match(rec) {
					matches = append(matches, rec)
				}
			}
			if len(matches) > 0 {
				return finalize(matches, w.Limit, w.Ascending), nil
			}
		} else {
			kept := 0
			for _, rec := range page.Items {
				if w.Keep != nil {
					ok, err := w.Keep(rec)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
				}
				kept++
				key := w.KeyOf(rec)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				acc = append(acc, rec)
			}
			if kept == 0 {
				break
			}
			if w.Limit > 0 && len(acc) >= w.Limit {
				break
			}
		}

		if page.Done {
			break
		}
		cur = page.Next
	}

	return finalize(acc, w.Limit, w.Ascending), nil
}

// finalize truncates the newest-first accumulation to limit, then reverses
// once if ascending output was requested.
func finalize(acc []Raw, limit int, ascending bool) []Raw {
	if limit > 0 && len(acc) > limit {
		acc = acc[:limit]
	}
	if ascending {
		for i, j := 0, len(acc)-1; i < j; i, j = i+1, j-1 {
			acc[i], acc[j] = acc[j], acc[i]
		}
	}
	return acc
}
