package storage

import (
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/storage"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (storage.ArtifactStore, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewS3Store(S3Config{
			Bucket:          c.ArtifactS3Bucket,
			Region:          c.ArtifactS3Region,
			Endpoint:        c.ArtifactS3Endpoint,
			AccessKeyID:     c.ArtifactS3AccessKeyID,
			SecretAccessKey: c.ArtifactS3SecretAccessKey,
			Prefix:          c.ArtifactS3Prefix,
			PublicBaseURL:   c.ArtifactPublicBaseURL,
			URLTTL:          c.ArtifactURLTTL,
		}), nil
	})
}
