package cli

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/imilosk/blobstore/configuration"
	"github.com/imilosk/blobstore/log"
)

// resolveCredentials fills in missing static credentials from the AWS
// default chain: environment, shared configuration files and instance roles.
// Requests stay anonymous when the chain has nothing to offer.
func resolveCredentials(ctx context.Context, settings *configuration.BlobStorage) {
	if settings.AccessKeyID != "" && settings.SecretAccessKey != "" {
		return
	}

	l := log.GetLogger(ctx).WithField("component", "cmd")

	opts := []func(*awsconfig.LoadOptions) error{}
	if settings.Region != "" {
		opts = append(opts, awsconfig.WithRegion(settings.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		l.WithError(err).Warn("loading AWS configuration, continuing without credentials")
		return
	}
	if cfg.Credentials == nil {
		return
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		l.WithError(err).Warn("retrieving AWS credentials, continuing without credentials")
		return
	}

	settings.AccessKeyID = creds.AccessKeyID
	settings.SecretAccessKey = creds.SecretAccessKey
	l.WithField("source", creds.Source).Debug("using AWS default credentials")
}
