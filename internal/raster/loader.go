package raster

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ingest-service/internal/config"
)

// Loader stages a GeoTIFF into the database as tiled raster rows.
type Loader interface {
	LoadToStaging(ctx context.Context, tifPath string) (string, error)
}

// PGRasterLoader shells out to raster2pgsql piped into psql, the bulk-load
// pair shipped with PostGIS. Each load targets a fresh staging relation in the
// bronze schema; the caller moves the rows into the partitioned table and
// drops the relation.
type PGRasterLoader struct {
	db     config.DatabaseConfig
	ingest config.IngestConfig
	log    *zap.Logger
}

// NewPGRasterLoader creates a loader from the database and tiling settings.
func NewPGRasterLoader(cfg *config.Config, log *zap.Logger) *PGRasterLoader {
	return &PGRasterLoader{db: cfg.Database, ingest: cfg.Ingest, log: log}
}

func stagingName() string {
	return "bronze.rastload_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// LoadToStaging tiles the GeoTIFF and streams the result into a new staging
// relation. On a failure after psql has started, the possibly half-created
// relation name is returned with the error so the caller can drop it.
func (l *PGRasterLoader) LoadToStaging(ctx context.Context, tifPath string) (string, error) {
	staging := stagingName()

	r2p := exec.CommandContext(ctx, "raster2pgsql",
		"-d", // drop and recreate the target relation
		"-t", l.ingest.TileSize,
		"-F", // add a filename column
		"-s", strconv.Itoa(l.ingest.SRID),
		tifPath, staging,
	)
	psql := exec.CommandContext(ctx, "psql",
		"-v", "ON_ERROR_STOP=1",
		"-q",
		"-h", l.db.Host,
		"-p", l.db.Port,
		"-U", l.db.User,
		"-d", l.db.Name,
	)
	psql.Env = append(os.Environ(), "PGPASSWORD="+l.db.Password)

	pipe, err := r2p.StdoutPipe()
	if err != nil {
		return "", errors.Wrap(err, "connecting raster2pgsql stdout")
	}
	psql.Stdin = pipe

	var r2pStderr, psqlStderr bytes.Buffer
	r2p.Stderr = &r2pStderr
	psql.Stderr = &psqlStderr

	if err := r2p.Start(); err != nil {
		return "", errors.Wrap(err, "starting raster2pgsql")
	}
	if err := psql.Start(); err != nil {
		_ = r2p.Process.Kill()
		_ = r2p.Wait()
		return "", errors.Wrap(err, "starting psql")
	}

	// psql reads the pipe, so it must be waited on first
	psqlErr := psql.Wait()
	r2pErr := r2p.Wait()

	if r2pErr != nil {
		return staging, errors.Wrapf(r2pErr, "raster2pgsql on %s: %s",
			filepath.Base(tifPath), strings.TrimSpace(r2pStderr.String()))
	}
	if psqlErr != nil {
		return staging, errors.Wrapf(psqlErr, "psql load of %s: %s",
			filepath.Base(tifPath), strings.TrimSpace(psqlStderr.String()))
	}

	l.log.Debug("raster staged",
		zap.String("file", filepath.Base(tifPath)),
		zap.String("staging", staging))
	return staging, nil
}
