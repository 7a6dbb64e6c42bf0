package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ingest-service/internal/m2m"
)

// orderState tracks how far a scene-list order has advanced through the
// provider's download protocol.
type orderState int

const (
	orderCreated orderState = iota
	orderRegistered
	orderSelected
	orderRequested
	orderPrepared
	orderClosed
)

const orderCleanupTimeout = 30 * time.Second

// PreparedProduct is a fetchable URL tied back to the scene band it carries.
type PreparedProduct struct {
	Download m2m.PreparedDownload
	Product  m2m.BandProduct
}

// catalogOrder walks one dataset's scene list through the provider's
// stateful download protocol: register the list, pick band products from its
// options, order them, poll until the packages are prepared, and remove the
// list again. Keeping the progression in one explicit state object makes
// cancellation and cleanup uniform no matter where the order stops.
type catalogOrder struct {
	catalog CatalogClient
	log     *zap.Logger

	dataset string
	listID  string
	state   orderState

	refs     []m2m.DownloadRef
	index    map[string]m2m.BandProduct
	prepared map[int64]m2m.PreparedDownload
}

func newCatalogOrder(catalog CatalogClient, dataset string, log *zap.Logger) *catalogOrder {
	return &catalogOrder{
		catalog:  catalog,
		log:      log,
		dataset:  dataset,
		listID:   fmt.Sprintf("temp_%s_%d", dataset, time.Now().Unix()),
		prepared: make(map[int64]m2m.PreparedDownload),
	}
}

// Register posts the candidate entity IDs as a named scene list.
func (o *catalogOrder) Register(ctx context.Context, entityIDs []string) error {
	if o.state != orderCreated {
		return errors.Errorf("order %s: already registered", o.listID)
	}
	added, err := o.catalog.AddScenesToList(ctx, o.listID, o.dataset, entityIDs)
	if err != nil {
		return errors.Wrapf(err, "registering scene list %s", o.listID)
	}
	o.state = orderRegistered
	o.log.Info("scene list registered",
		zap.String("list_id", o.listID),
		zap.Int("scenes", added))
	return nil
}

// SelectProducts fetches the download options for the registered list and
// picks the file product for every wanted band. Returns the number of
// products that will be ordered.
func (o *catalogOrder) SelectProducts(ctx context.Context, bandsByEntity map[string][]string) (int, error) {
	if o.state != orderRegistered {
		return 0, errors.Errorf("order %s: product selection before registration", o.listID)
	}
	options, err := o.catalog.DownloadOptions(ctx, o.listID, o.dataset)
	if err != nil {
		return 0, errors.Wrapf(err, "listing download options for %s", o.dataset)
	}
	o.refs, o.index = m2m.SelectBandProducts(options, bandsByEntity)
	o.state = orderSelected
	return len(o.refs), nil
}

// Request orders the selected products under the list ID as label. URLs the
// provider can serve immediately are collected right away.
func (o *catalogOrder) Request(ctx context.Context) error {
	if o.state != orderSelected {
		return errors.Errorf("order %s: request before product selection", o.listID)
	}
	result, err := o.catalog.RequestDownloads(ctx, o.listID, o.refs)
	if err != nil {
		return errors.Wrapf(err, "requesting %d products", len(o.refs))
	}
	for _, d := range result.Available {
		if d.URL != "" {
			o.prepared[d.DownloadID] = d
		}
	}
	o.state = orderRequested
	return nil
}

// AwaitPrepared polls until every ordered product has a URL or the poll
// ceiling passes. A preparation timeout is not an error; the order proceeds
// with whatever is ready and the coordinator accounts for the rest.
func (o *catalogOrder) AwaitPrepared(ctx context.Context) error {
	if o.state != orderRequested {
		return errors.Errorf("order %s: awaiting an order that was never requested", o.listID)
	}
	o.state = orderPrepared
	if len(o.prepared) >= len(o.refs) {
		return nil
	}
	polled, err := o.catalog.RetrieveDownloads(ctx, o.listID, len(o.refs))
	for _, d := range polled {
		if d.URL != "" {
			o.prepared[d.DownloadID] = d
		}
	}
	if err != nil {
		if errors.Is(err, m2m.ErrPackagePreparationTimeout) {
			o.log.Warn("package preparation timed out",
				zap.String("list_id", o.listID),
				zap.Int("prepared", len(o.prepared)),
				zap.Int("ordered", len(o.refs)))
			return nil
		}
		return errors.Wrapf(err, "retrieving downloads for %s", o.listID)
	}
	return nil
}

// Products pairs every prepared URL with the band product it belongs to.
func (o *catalogOrder) Products() []PreparedProduct {
	out := make([]PreparedProduct, 0, len(o.prepared))
	for _, d := range o.prepared {
		bp, ok := o.index[d.EntityID]
		if !ok {
			continue
		}
		out = append(out, PreparedProduct{Download: d, Product: bp})
	}
	return out
}

// Close removes the scene list from the provider so its quota is released.
// It runs on its own short-lived context, so a canceled run still cleans up;
// removal failure is logged, never fatal.
func (o *catalogOrder) Close() {
	if o.state == orderCreated || o.state == orderClosed {
		o.state = orderClosed
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), orderCleanupTimeout)
	defer cancel()
	if err := o.catalog.RemoveSceneList(ctx, o.listID); err != nil {
		o.log.Warn("scene list cleanup failed",
			zap.String("list_id", o.listID),
			zap.Error(err))
	}
	o.state = orderClosed
}
