package main

import (
	"context"
	"log"
	"time"

	"github.com/tianshipapa/doubandai/infrastructure/config"
	"github.com/tianshipapa/doubandai/infrastructure/di"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"go.uber.org/zap"
)

var (
	chiLambda *chiadapter.ChiLambdaV2
	container *di.Container

	coldStart     = true
	coldStartTime time.Time
)

func init() {
	coldStartTime = time.Now()
	log.Println("Lambda cold start initiated")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	chiLambda = chiadapter.NewV2(container.Router)

	log.Printf("Lambda cold start completed in %v", time.Since(coldStartTime))
}

// Handler is the Lambda function handler. The execution environment freezes
// once it returns, so queued cache writes are awaited here.
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := chiLambda.ProxyWithContextV2(ctx, req)

	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if coldStart {
		resp.Headers["X-Cold-Start"] = "true"
		container.Logger.Info("Served first request after cold start",
			zap.Duration("since_init", time.Since(coldStartTime)),
			zap.Int("status_code", resp.StatusCode),
		)
		coldStart = false
	} else {
		resp.Headers["X-Cold-Start"] = "false"
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), container.Config.Cache.WriteTimeout)
	defer cancel()
	if waitErr := container.Background.Wait(waitCtx); waitErr != nil {
		container.Logger.Warn("Cache writes still pending at end of invocation",
			zap.String("request_id", req.RequestContext.RequestID),
			zap.Error(waitErr),
		)
	}

	return resp, err
}

func main() {
	lambda.Start(Handler)
}
