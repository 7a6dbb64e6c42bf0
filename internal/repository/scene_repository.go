package repository

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ingest-service/internal/models"
)

const dateLayout = "2006-01-02"

// SceneRepository defines persistence for catalog scenes.
type SceneRepository interface {
	GetByEntityID(entityID string) (*models.Scene, error)
	Upsert(scene *models.Scene) (*models.Scene, error)
	List(limit int) ([]models.Scene, error)
}

// SceneRepositoryImpl provides methods to interact with scene rows.
type SceneRepositoryImpl struct {
	db *gorm.DB
}

// NewSceneRepository creates a SceneRepositoryImpl with the provided GORM connection.
func NewSceneRepository(db *gorm.DB) *SceneRepositoryImpl {
	return &SceneRepositoryImpl{db: db}
}

// GetByEntityID retrieves a scene by its catalog entity ID. Returns (nil, nil)
// when the scene has not been recorded yet.
func (r *SceneRepositoryImpl) GetByEntityID(entityID string) (*models.Scene, error) {
	var scene models.Scene
	err := r.db.First(&scene, "entity_id = ?", entityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &scene, nil
}

// Upsert inserts the scene if it is new, or verifies the incoming values
// against the stored row. A mismatch on an identity field returns a
// SceneMetadataConflictError and leaves the stored row untouched.
func (r *SceneRepositoryImpl) Upsert(scene *models.Scene) (*models.Scene, error) {
	existing, err := r.GetByEntityID(scene.EntityID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := r.db.Create(scene).Error; err != nil {
			return nil, err
		}
		return scene, nil
	}
	if err := compareSceneIdentity(existing, scene); err != nil {
		return nil, err
	}
	return existing, nil
}

// compareSceneIdentity checks the fields that identify a scene. Empty incoming
// values are ignored; the catalog does not always return every field.
func compareSceneIdentity(existing, incoming *models.Scene) error {
	if !incoming.AcquisitionDate.IsZero() &&
		existing.AcquisitionDate.Format(dateLayout) != incoming.AcquisitionDate.Format(dateLayout) {
		return &SceneMetadataConflictError{
			EntityID: existing.EntityID,
			Field:    "acquisition_date",
			Existing: existing.AcquisitionDate.Format(dateLayout),
			Incoming: incoming.AcquisitionDate.Format(dateLayout),
		}
	}
	checks := []struct {
		field    string
		existing string
		incoming string
	}{
		{"sensor", existing.Sensor, incoming.Sensor},
		{"dataset_name", existing.DatasetName, incoming.DatasetName},
		{"satellite", existing.Satellite, incoming.Satellite},
	}
	for _, c := range checks {
		if c.incoming != "" && c.existing != "" && c.incoming != c.existing {
			return &SceneMetadataConflictError{
				EntityID: existing.EntityID,
				Field:    c.field,
				Existing: c.existing,
				Incoming: c.incoming,
			}
		}
	}
	return nil
}

// List retrieves the most recently recorded scenes.
func (r *SceneRepositoryImpl) List(limit int) ([]models.Scene, error) {
	var scenes []models.Scene
	err := r.db.Order("created_at DESC").Limit(limit).Find(&scenes).Error
	return scenes, err
}
