package provider

import (
	"fmt"

	"github.com/cloudhop/cloudhop/app/models"
)

// Provider names as stored on slots, ownership rows and jobs.
const (
	ProviderDrive   = "drive"
	ProviderDropbox = "dropbox"
	ProviderS3      = "s3"
)

// Resolver turns a stored provider account into a live gateway. The
// transfer engine only ever sees this interface, never a concrete
// provider.
type Resolver interface {
	Resolve(account *models.ProviderAccount) (Gateway, error)
}

// Registry is the default resolver covering all built-in providers.
type Registry struct{}

// NewRegistry creates the default gateway registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Resolve(account *models.ProviderAccount) (Gateway, error) {
	switch account.Provider {
	case ProviderDrive:
		return NewDriveGateway(account), nil
	case ProviderDropbox:
		return NewDropboxGateway(account), nil
	case ProviderS3:
		return NewS3Gateway(S3Config{
			AccessKeyID:     account.AccessToken,
			SecretAccessKey: account.RefreshToken,
			Region:          account.Region,
			EndpointURL:     account.EndpointURL,
			Bucket:          account.Bucket,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", account.Provider)
	}
}
