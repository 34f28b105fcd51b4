package repository

import (
	"github.com/cloudhop/cloudhop/app/models"
	"gorm.io/gorm"
)

// jobRepository implements the JobRepository interface
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new transfer job repository instance
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create creates a new transfer job in the database
func (r *jobRepository) Create(job *models.TransferJob) error {
	return r.db.Create(job).Error
}

// GetByID retrieves a job by its numeric ID
func (r *jobRepository) GetByID(id uint) (*models.TransferJob, error) {
	var job models.TransferJob
	err := r.db.First(&job, id).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByUUID retrieves a job by its public UUID
func (r *jobRepository) GetByUUID(uuid string) (*models.TransferJob, error) {
	var job models.TransferJob
	err := r.db.Where("uuid = ?", uuid).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByUUIDForUser retrieves a job by UUID scoped to its owner
func (r *jobRepository) GetByUUIDForUser(uuid string, userID uint) (*models.TransferJob, error) {
	var job models.TransferJob
	err := r.db.Where("uuid = ? AND user_id = ?", uuid, userID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByUserID retrieves a user's jobs, newest first
func (r *jobRepository) GetByUserID(userID uint, offset, limit int) ([]models.TransferJob, error) {
	var jobs []models.TransferJob
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Update persists a job's current state
func (r *jobRepository) Update(job *models.TransferJob) error {
	return r.db.Save(job).Error
}

// SetStatusIf performs a guarded status transition. The WHERE clause on the
// current status is what makes concurrent cancel/run settle on one winner.
func (r *jobRepository) SetStatusIf(jobID uint, from, to models.JobStatus) (bool, error) {
	res := r.db.Model(&models.TransferJob{}).
		Where("id = ? AND status = ?", jobID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateItems bulk-inserts the items discovered during prepare
func (r *jobRepository) CreateItems(items []models.TransferItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.Create(&items).Error
}

// GetItems retrieves all items of a job in insertion order
func (r *jobRepository) GetItems(jobID uint) ([]models.TransferItem, error) {
	var items []models.TransferItem
	err := r.db.Where("job_id = ?", jobID).Order("id ASC").Find(&items).Error
	return items, err
}

// GetPendingItems retrieves a job's items that have not settled yet
func (r *jobRepository) GetPendingItems(jobID uint) ([]models.TransferItem, error) {
	var items []models.TransferItem
	err := r.db.Where("job_id = ? AND status IN ?", jobID,
		[]models.ItemStatus{models.ItemQueued, models.ItemRunning}).
		Order("id ASC").Find(&items).Error
	return items, err
}

// UpdateItem persists a single item's state
func (r *jobRepository) UpdateItem(item *models.TransferItem) error {
	return r.db.Save(item).Error
}

// CountItemsByStatus returns how many items sit in each status
func (r *jobRepository) CountItemsByStatus(jobID uint) (map[models.ItemStatus]int64, error) {
	type row struct {
		Status models.ItemStatus
		N      int64
	}
	var rows []row
	err := r.db.Model(&models.TransferItem{}).
		Select("status, COUNT(*) AS n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.ItemStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
