package config

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// NewAWSSession creates a session from the [AWS] settings. Without static
// keys the default credential chain applies (environment, shared config,
// instance role).
func NewAWSSession(cfg AWSConfig, logger *slog.Logger) (*session.Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)

	switch {
	case cfg.AccessKeyID == "" && cfg.SecretAccessKey == "":
		logger.Info("no static AWS credentials configured, using default credential chain", "region", cfg.Region)
	case cfg.AccessKeyID == "" || cfg.SecretAccessKey == "":
		return nil, fmt.Errorf("aws: both aws_access_key_id and aws_secret_access_key must be set")
	default:
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return sess, nil
}
