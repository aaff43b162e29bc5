package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkFailureSpike     BookmarkType = "failure_spike"
	BookmarkSearchStall      BookmarkType = "search_stall"
	BookmarkOrphanedTopology BookmarkType = "orphaned_topology"
	BookmarkStreamingChurn   BookmarkType = "streaming_churn"
	BookmarkSteadyState      BookmarkType = "steady_state"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        int32        `csv:"tick"`
	Description string       `csv:"description"`
}

// LogValue implements slog.LogValuer.
func (b Bookmark) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(b.Type)),
		slog.Int("tick", int(b.Tick)),
		slog.String("description", b.Description),
	)
}

// BookmarkDetector detects interesting moments of a run from its window stats.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	orphanedWindows int // consecutive windows with waiting topologies
	steadyWindows   int // consecutive windows without failures or streaming
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	for _, check := range []func(WindowStats) *Bookmark{
		bd.checkFailureSpike,
		bd.checkSearchStall,
		bd.checkOrphanedTopology,
		bd.checkStreamingChurn,
		bd.checkSteadyState,
	} {
		if b := check(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func failureRate(s WindowStats) float64 {
	total := s.PathsFound + s.PathsNotFound
	if total == 0 {
		return 0
	}
	return float64(s.PathsNotFound) / float64(total)
}

// checkFailureSpike fires when the share of failed searches is more than twice
// its rolling average.
func (bd *BookmarkDetector) checkFailureSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 || stats.PathsNotFound < 3 {
		return nil
	}

	var found, failed int
	for _, h := range history {
		found += h.PathsFound
		failed += h.PathsNotFound
	}
	if found+failed == 0 {
		return nil
	}
	avg := float64(failed) / float64(found+failed)
	rate := failureRate(stats)
	if rate > 2*avg {
		return &Bookmark{
			Type:        BookmarkFailureSpike,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Search failure rate %.2f against a rolling average of %.2f", rate, avg),
		}
	}
	return nil
}

// checkSearchStall fires when searches take more than twice as many frames as
// usual to finish, which means the time budget is starving them.
func (bd *BookmarkDetector) checkSearchStall(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 || stats.PathsFound == 0 {
		return nil
	}

	var sum float64
	var n int
	for _, h := range history {
		if h.PathsFound > 0 {
			sum += h.FramesPerSearchP90
			n++
		}
	}
	if n == 0 || sum == 0 {
		return nil
	}
	avg := sum / float64(n)
	if stats.FramesPerSearchP90 > 2*avg && stats.FramesPerSearchP90 >= 4 {
		return &Bookmark{
			Type:        BookmarkSearchStall,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Searches need %.0f frames at p90, %.1fx the average", stats.FramesPerSearchP90, stats.FramesPerSearchP90/avg),
		}
	}
	return nil
}

// checkOrphanedTopology fires once when PathObject topologies kept waiting for
// their anchor cell over three windows.
func (bd *BookmarkDetector) checkOrphanedTopology(stats WindowStats) *Bookmark {
	if stats.WaitingAdditional == 0 {
		bd.orphanedWindows = 0
		return nil
	}
	bd.orphanedWindows++
	if bd.orphanedWindows == 3 {
		return &Bookmark{
			Type:        BookmarkOrphanedTopology,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d topologies waiting for an anchor over 3 windows", stats.WaitingAdditional),
		}
	}
	return nil
}

// checkStreamingChurn fires when more than twice the usual number of sectors
// moved in or out.
func (bd *BookmarkDetector) checkStreamingChurn(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	churn := stats.SectorsLoaded + stats.SectorsUnloaded
	if len(history) < 3 || churn < 4 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.SectorsLoaded + h.SectorsUnloaded
	}
	avg := float64(total) / float64(len(history))
	if float64(churn) > 2*avg {
		return &Bookmark{
			Type:        BookmarkStreamingChurn,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d sectors streamed against an average of %.1f", churn, avg),
		}
	}
	return nil
}

// checkSteadyState fires once after five quiet windows with agents planning.
func (bd *BookmarkDetector) checkSteadyState(stats WindowStats) *Bookmark {
	if stats.PathsNotFound > 0 || stats.SectorsLoaded+stats.SectorsUnloaded > 0 || stats.PathsFound == 0 {
		bd.steadyWindows = 0
		return nil
	}
	bd.steadyWindows++
	if bd.steadyWindows == 5 {
		return &Bookmark{
			Type:        BookmarkSteadyState,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("No failures or streaming over 5 windows with %d virtual edges", stats.VirtualEdges),
		}
	}
	return nil
}
