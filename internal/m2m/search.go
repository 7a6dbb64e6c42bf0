package m2m

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SearchParams narrows a scene search to one dataset, an area, a date range
// and a cloud-cover ceiling.
type SearchParams struct {
	Dataset       string
	Spatial       *SpatialFilter
	StartDate     string
	EndDate       string
	MaxCloudCover int
}

// SearchScenes walks scene-search page by page until the hit count is
// exhausted. Each page fetch runs under the retry policy independently, so a
// flaky page is retried without refetching earlier pages.
func (c *Client) SearchScenes(ctx context.Context, p SearchParams) ([]SceneResult, error) {
	pageSize := c.pageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	filter := &sceneFilter{
		SpatialFilter: p.Spatial,
		AcquisitionFilter: &AcquisitionFilter{
			Start: p.StartDate,
			End:   p.EndDate,
		},
		CloudCoverFilter: &CloudCoverFilter{
			Max:            p.MaxCloudCover,
			IncludeUnknown: false,
		},
	}

	var results []SceneResult
	starting := 1
	for {
		req := sceneSearchRequest{
			DatasetName:    p.Dataset,
			MaxResults:     pageSize,
			StartingNumber: starting,
			SceneFilter:    filter,
		}
		var page sceneSearchResponse
		err := c.retry.Do(ctx, IsRetryable, func() error {
			return c.Call(ctx, "scene-search", req, &page)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scene search for %s failed at record %d", p.Dataset, starting)
		}

		results = append(results, page.Results...)
		c.log.Debug("search page fetched",
			zap.String("dataset", p.Dataset),
			zap.Int("returned", page.RecordsReturned),
			zap.Int("total", page.TotalHits),
			zap.Int("collected", len(results)))

		if page.RecordsReturned == 0 || len(results) >= page.TotalHits {
			break
		}
		starting += page.RecordsReturned
	}

	c.log.Info("scene search complete",
		zap.String("dataset", p.Dataset), zap.Int("scenes", len(results)))
	return results, nil
}
