// Command pretokengen is the Cognito pre token generation Lambda trigger.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/config"
	"github.com/upb/realty-dashboard/enrichment"
	"github.com/upb/realty-dashboard/internal/observability"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadTrigger()
	if err != nil {
		log.Fatalf("invalid trigger configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	logger.Info("pre token generation trigger starting",
		zap.String("user_pool_id", cfg.UserPoolID),
		zap.Duration("group_lookup_timeout", cfg.GroupLookupTimeout))

	lookup := cognito.NewGroupLookup(cip.NewFromConfig(awsCfg), cfg.UserPoolID)
	lambda.Start(enrichment.NewHandler(lookup, logger, cfg.GroupLookupTimeout).Handle)
}
