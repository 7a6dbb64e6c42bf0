package m2m

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ingest-service/internal/retry"
)

// AddScenesToList registers entity ids under listID so download options can
// be fetched for the whole set in one call. Returns the number of scenes the
// service accepted.
func (c *Client) AddScenesToList(ctx context.Context, listID, dataset string, entityIDs []string) (int, error) {
	req := sceneListAddRequest{
		ListID:      listID,
		DatasetName: dataset,
		IDField:     "entityId",
		EntityIDs:   entityIDs,
	}
	var added int
	err := c.retry.Do(ctx, IsRetryable, func() error {
		return c.Call(ctx, "scene-list-add", req, &added)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "adding %d scenes to list %s", len(entityIDs), listID)
	}
	return added, nil
}

// RemoveSceneList deletes the transient scene list. Run cleanup calls this
// best-effort; a failure wastes provider quota but breaks nothing.
func (c *Client) RemoveSceneList(ctx context.Context, listID string) error {
	err := c.retry.Do(ctx, IsRetryable, func() error {
		return c.Call(ctx, "scene-list-remove", sceneListRemoveRequest{ListID: listID}, nil)
	})
	if err != nil {
		return errors.Wrapf(err, "removing scene list %s", listID)
	}
	return nil
}

// DownloadOptions returns the orderable products for every scene in the list.
func (c *Client) DownloadOptions(ctx context.Context, listID, dataset string) ([]DownloadOption, error) {
	req := downloadOptionsRequest{DatasetName: dataset, ListID: listID}
	var options []DownloadOption
	err := c.retry.Do(ctx, IsRetryable, func() error {
		return c.Call(ctx, "download-options", req, &options)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching download options for list %s", listID)
	}
	return options, nil
}

// RequestDownloads submits the selected products under label. URLs for some
// products come back immediately; the rest must be polled via
// RetrieveDownloads.
func (c *Client) RequestDownloads(ctx context.Context, label string, refs []DownloadRef) (*DownloadRequestResult, error) {
	req := downloadRequest{Downloads: refs, Label: label}
	var result DownloadRequestResult
	err := c.retry.Do(ctx, IsRetryable, func() error {
		return c.Call(ctx, "download-request", req, &result)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "requesting %d downloads under label %s", len(refs), label)
	}
	return &result, nil
}

// RetrieveDownloads polls download-retrieve until expected URLs are known or
// the ceiling elapses. On timeout it returns what became ready together with
// the timeout error, so callers can proceed with partial results and mark the
// rest failed.
func (c *Client) RetrieveDownloads(ctx context.Context, label string, expected int) ([]PreparedDownload, error) {
	interval := c.pollInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ceiling := c.pollCeiling
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}

	deadline := time.Now().Add(ceiling)
	ready := make(map[int64]PreparedDownload)
	for {
		var resp downloadRetrieveResponse
		err := c.retry.Do(ctx, IsRetryable, func() error {
			return c.Call(ctx, "download-retrieve", downloadRetrieveRequest{Label: label}, &resp)
		})
		if err != nil {
			return collect(ready), errors.Wrapf(err, "retrieving downloads for label %s", label)
		}
		for _, d := range resp.Available {
			if d.URL != "" {
				ready[d.DownloadID] = d
			}
		}
		for _, d := range resp.Requested {
			if d.URL != "" {
				ready[d.DownloadID] = d
			}
		}

		if len(ready) >= expected {
			return collect(ready), nil
		}
		if time.Now().After(deadline) {
			return collect(ready), errors.Wrapf(ErrPackagePreparationTimeout,
				"%d of %d downloads ready after %s", len(ready), expected, ceiling)
		}

		c.log.Debug("waiting for download preparation",
			zap.String("label", label),
			zap.Int("ready", len(ready)),
			zap.Int("expected", expected),
			zap.Int("queue", resp.QueueSize))
		if err := retry.Sleep(ctx, interval); err != nil {
			return collect(ready), err
		}
	}
}

func collect(m map[int64]PreparedDownload) []PreparedDownload {
	out := make([]PreparedDownload, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

// BandProduct ties one downloadable file product back to the scene and band
// it belongs to. Bundle products cover all wanted bands of their scene at
// once; they carry no band name of their own.
type BandProduct struct {
	SceneEntityID   string
	BandName        string
	ProductEntityID string
	ProductID       string
	FileSize        int64
	Bundle          bool
}

// SelectBandProducts walks the option tree and picks, per scene, the file
// product for each wanted band. Band files appear as secondary downloads of
// the scene-level product; they are matched by display id suffix. Scenes
// whose options expose no matching band files fall back to the full product
// bundle, which the caller must unpack itself. Returns the refs to order plus
// an index keyed by the product's own entity id, which is how prepared URLs
// refer back to them.
func SelectBandProducts(options []DownloadOption, bandsByEntity map[string][]string) ([]DownloadRef, map[string]BandProduct) {
	var refs []DownloadRef
	index := make(map[string]BandProduct)
	matched := make(map[string]bool)

	for _, opt := range options {
		bands, ok := bandsByEntity[opt.EntityID]
		if !ok {
			continue
		}
		for _, sd := range opt.SecondaryDownloads {
			band := matchBand(sd.DisplayID, bands)
			if band == "" {
				continue
			}
			if _, dup := index[sd.EntityID]; dup {
				continue
			}
			refs = append(refs, DownloadRef{EntityID: sd.EntityID, ProductID: sd.ID})
			index[sd.EntityID] = BandProduct{
				SceneEntityID:   opt.EntityID,
				BandName:        band,
				ProductEntityID: sd.EntityID,
				ProductID:       sd.ID,
				FileSize:        sd.FileSize,
			}
			matched[opt.EntityID] = true
		}
	}

	for entityID := range bandsByEntity {
		if matched[entityID] {
			continue
		}
		opt := bundleOption(options, entityID)
		if opt == nil {
			continue
		}
		refs = append(refs, DownloadRef{EntityID: opt.EntityID, ProductID: opt.ID})
		index[opt.EntityID] = BandProduct{
			SceneEntityID:   opt.EntityID,
			ProductEntityID: opt.EntityID,
			ProductID:       opt.ID,
			FileSize:        opt.FileSize,
			Bundle:          true,
		}
	}
	return refs, index
}

// bundleOption picks the scene-level product to order when no individual band
// files are on offer. Prefers the product named as a bundle, otherwise takes
// any available scene product.
func bundleOption(options []DownloadOption, entityID string) *DownloadOption {
	var fallback *DownloadOption
	for i := range options {
		opt := &options[i]
		if opt.EntityID != entityID || !opt.Available {
			continue
		}
		if strings.Contains(opt.ProductName, "Bundle") {
			return opt
		}
		if fallback == nil {
			fallback = opt
		}
	}
	return fallback
}

// matchBand finds which wanted band a file display id carries, e.g.
// LC08_..._SR_B3.TIF matches SR_B3 but not SR_B30.
func matchBand(displayID string, bands []string) string {
	for _, band := range bands {
		if strings.HasSuffix(displayID, "_"+band) || strings.Contains(displayID, "_"+band+".") {
			return band
		}
	}
	return ""
}
