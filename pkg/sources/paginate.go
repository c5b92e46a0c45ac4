package sources

import (
	"context"
	"iter"
	"time"

	"harvester/pkg/cutoff"
	herrors "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// Page is one batch of raw items, newest first, plus the cursor of the next
// older batch. An empty Next means the source has nothing older.
type Page struct {
	Items []models.ContentItem
	Next  string
}

// PageFunc fetches the page addressed by cursor.
type PageFunc func(ctx context.Context, cursor string) (Page, error)

// Paginator walks a target's pages backward in time and applies the cutoff
// policy to every raw item.
type Paginator struct {
	Source string
	Target models.Target
	Policy cutoff.Policy
	// Start is the cursor of the newest page; often empty.
	Start  string
	Fetch  PageFunc
	Logger logger.Logger
}

// Seq returns the lazy, filtered item sequence.
//
// Pagination ends when the policy says Stop, when Next is empty, or when a
// cursor repeats. Errors are scoped to the source and target before being
// yielded.
func (p Paginator) Seq(ctx context.Context) iter.Seq2[models.ContentItem, error] {
	log := p.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return func(yield func(models.ContentItem, error) bool) {
		cursor := p.Start
		seen := map[string]bool{cursor: true}
		position, lastPost := -1, ""

		for {
			if err := ctx.Err(); err != nil {
				yield(models.ContentItem{}, herrors.Scope(herrors.Cancelled(err), p.Source, p.Target.Name, ""))
				return
			}

			start := time.Now()
			page, err := p.Fetch(ctx, cursor)
			if err != nil {
				yield(models.ContentItem{}, herrors.Scope(err, p.Source, p.Target.Name, ""))
				return
			}
			logger.LogPageFetch(log, p.Source, p.Target.Name, cursor, len(page.Items), time.Since(start))

			for _, item := range page.Items {
				// images of one post share the post's position
				if item.PostID == "" || item.PostID != lastPost {
					position++
				}
				lastPost = item.PostID
				decision := p.Policy.Admit(position, item)

				switch decision {
				case cutoff.Stop:
					log.DebugWithFields("reached cutoff", map[string]interface{}{
						"source": p.Source,
						"target": p.Target.Name,
						"item":   item.ID,
						"cutoff": p.Policy.Cutoff,
					})
					return
				case cutoff.Skip:
					continue
				}

				if !yield(item, nil) {
					return
				}
			}

			if page.Next == "" || seen[page.Next] {
				return
			}
			seen[page.Next] = true
			cursor = page.Next
		}
	}
}
