package journey

import (
	"fmt"
	"sort"
	"time"

	"contour/internal/domain"
)

// CommentsMap returns the dataset's comment index, or an empty map.
func CommentsMap(ds domain.Dataset) map[string][]domain.Comment {
	if ds.Comments == nil {
		return map[string][]domain.Comment{}
	}
	return ds.Comments
}

// AddComment returns a dataset with c appended to momentID's comments. The
// lists of other moments are shared with ds.
func AddComment(ds domain.Dataset, momentID string, c domain.Comment) domain.Dataset {
	next := ds
	next.Comments = cloneIndex(ds.Comments)
	prev := ds.Comments[momentID]
	list := make([]domain.Comment, len(prev), len(prev)+1)
	copy(list, prev)
	next.Comments[momentID] = append(list, c)
	return next
}

// DeleteComment returns a dataset without the comment commentID on momentID.
// An unknown id leaves the dataset as it was. A list that becomes empty is
// removed from the index.
func DeleteComment(ds domain.Dataset, momentID, commentID string) domain.Dataset {
	prev := ds.Comments[momentID]
	idx := -1
	for i, c := range prev {
		if c.ID == commentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ds
	}
	next := ds
	next.Comments = cloneIndex(ds.Comments)
	list := make([]domain.Comment, 0, len(prev)-1)
	list = append(list, prev[:idx]...)
	list = append(list, prev[idx+1:]...)
	if len(list) == 0 {
		delete(next.Comments, momentID)
	} else {
		next.Comments[momentID] = list
	}
	return next
}

// SortedComments orders comments by timestamp for display. Timestamps that do
// not parse as RFC 3339 are compared as text; ties keep insertion order.
func SortedComments(comments []domain.Comment) []domain.Comment {
	out := make([]domain.Comment, len(comments))
	copy(out, comments)
	sort.SliceStable(out, func(i, j int) bool {
		a, errA := time.Parse(time.RFC3339Nano, out[i].TS)
		b, errB := time.Parse(time.RFC3339Nano, out[j].TS)
		if errA == nil && errB == nil {
			return a.Before(b)
		}
		return out[i].TS < out[j].TS
	})
	return out
}

// NewCommentID builds a comment id unique per moment at millisecond resolution.
func NewCommentID(momentID string, now time.Time) string {
	return fmt.Sprintf("%s-%d", momentID, now.UnixMilli())
}

func cloneIndex(src map[string][]domain.Comment) map[string][]domain.Comment {
	out := make(map[string][]domain.Comment, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}
