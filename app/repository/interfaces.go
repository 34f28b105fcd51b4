package repository

import (
	"time"

	"github.com/cloudhop/cloudhop/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	Count() (int64, error)
}

// JobRepository defines the interface for transfer job persistence
type JobRepository interface {
	Create(job *models.TransferJob) error
	GetByID(id uint) (*models.TransferJob, error)
	GetByUUID(uuid string) (*models.TransferJob, error)
	GetByUUIDForUser(uuid string, userID uint) (*models.TransferJob, error)
	GetByUserID(userID uint, offset, limit int) ([]models.TransferJob, error)
	Update(job *models.TransferJob) error
	// SetStatusIf moves a job from one status to another and reports
	// whether the transition happened. Lost races return false, nil.
	SetStatusIf(jobID uint, from, to models.JobStatus) (bool, error)

	CreateItems(items []models.TransferItem) error
	GetItems(jobID uint) ([]models.TransferItem, error)
	GetPendingItems(jobID uint) ([]models.TransferItem, error)
	UpdateItem(item *models.TransferItem) error
	CountItemsByStatus(jobID uint) (map[models.ItemStatus]int64, error)
}

// QueueRepository defines the interface for cache/queue operations
type QueueRepository interface {
	GetTTL(key string) (time.Duration, error)
	GetListLength(key string) (int64, error)
	FindKeysByPatterns(patterns []string) ([]string, error)
	DeleteKeys(keys []string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User  UserRepository
	Job   JobRepository
	Queue QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Job:   NewJobRepository(db),
		Queue: NewQueueRepository(),
	}
}
