package core

import (
	"context"
	"fmt"
	"log/slog"
)

// Gateway interface for listing and resolving remote media items
type Gateway interface {
	ListRecent(ctx context.Context, pageToken string, pageSize int) ([]MediaItem, string, error)
	ResolveDownloadURL(ctx context.Context, itemID string) (string, error)
}

// RotationStore interface for persisting rotation state
type RotationStore interface {
	LoadRotation(ctx context.Context) (*RotationState, error)
	SaveRotation(ctx context.Context, state *RotationState) error
}

// Selector chooses the next media item to display, avoiding recent repeats
type Selector struct {
	gateway  Gateway
	store    RotationStore
	pageSize int
	maxPages int
	window   int
	logger   *slog.Logger
}

// NewSelector creates a new rotation selector
func NewSelector(gateway Gateway, store RotationStore, pageSize, window int, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 25
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Selector{
		gateway:  gateway,
		store:    store,
		pageSize: pageSize,
		maxPages: 20,
		window:   window,
		logger:   logger,
	}
}

// SelectNext picks the next item to show. It walks the newest-first listing
// from the persisted cursor, skipping ids inside the history window. When the
// listing is exhausted the cursor wraps to the start once; if a full wrapped
// pass still finds nothing (library smaller than the window) the first item of
// the library is re-shown rather than stalling forever.
func (s *Selector) SelectNext(ctx context.Context) (MediaItem, error) {
	state, err := s.store.LoadRotation(ctx)
	if err != nil {
		// Corrupt or absent rotation state is non-fatal
		s.logger.Warn("Rotation state unreadable, reinitializing", "error", err)
		state = NewRotationState(s.window)
	}
	if state.Window != s.window {
		state.Window = s.window
	}

	cursor := state.Cursor
	wrapped := false

	for page := 0; page < s.maxPages; page++ {
		items, nextToken, err := s.gateway.ListRecent(ctx, cursor.PageToken, s.pageSize)
		if err != nil {
			return MediaItem{}, fmt.Errorf("list media items: %w", err)
		}
		if len(items) == 0 && cursor.PageToken == "" {
			return MediaItem{}, ErrNoNewItems
		}

		for i := cursor.Offset; i < len(items); i++ {
			if state.RecentlyShown(items[i].ID) {
				continue
			}
			return s.choose(ctx, state, items[i], Cursor{PageToken: cursor.PageToken, Offset: i + 1})
		}

		// Page exhausted without a candidate
		if nextToken != "" {
			cursor = Cursor{PageToken: nextToken}
			continue
		}
		if !wrapped {
			// Oldest-first fallback: start over from the head of the library
			wrapped = true
			cursor = Cursor{}
			continue
		}

		// Full wrapped pass with no candidate: the library is smaller than
		// the history window, so re-show the least recently shown item.
		head, _, err := s.gateway.ListRecent(ctx, "", s.pageSize)
		if err != nil {
			return MediaItem{}, fmt.Errorf("list media items: %w", err)
		}
		if len(head) == 0 {
			return MediaItem{}, ErrNoNewItems
		}
		pick := s.leastRecent(state, head)
		return s.choose(ctx, state, pick, Cursor{Offset: 0})
	}

	return MediaItem{}, ErrNoNewItems
}

// choose records the selection and persists the updated ring and cursor
func (s *Selector) choose(ctx context.Context, state *RotationState, item MediaItem, next Cursor) (MediaItem, error) {
	state.MarkShown(item.ID)
	state.Cursor = next
	if err := s.store.SaveRotation(ctx, state); err != nil {
		return MediaItem{}, fmt.Errorf("save rotation state: %w", err)
	}
	s.logger.Debug("Selected media item",
		"item_id", item.ID,
		"filename", item.Filename,
		"history_len", len(state.Shown))
	return item, nil
}

// leastRecent returns the page item deepest in the history ring, or the first
// item that is not in the ring at all
func (s *Selector) leastRecent(state *RotationState, items []MediaItem) MediaItem {
	pick := items[0]
	depth := -1
	for _, item := range items {
		pos := historyPos(state, item.ID)
		if pos == -1 {
			return item
		}
		if pos > depth {
			depth = pos
			pick = item
		}
	}
	return pick
}

func historyPos(state *RotationState, id string) int {
	for i, shown := range state.Shown {
		if shown == id {
			return i
		}
	}
	return -1
}
