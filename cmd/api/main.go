package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopcraft/storefront/internal/awsx"
	"github.com/shopcraft/storefront/internal/handlers"
	log "github.com/sirupsen/logrus"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterCatalogRoutes(r, cfg)

	return r
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	if os.Getenv("RUN_LOCAL") == "true" {
		_ = godotenv.Load()
	}

	clients, err := awsx.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cfg := handlers.HandlerConfig{
		DynamoDBClient:      clients.DynamoDB,
		SQSClient:           clients.SQS,
		CloudWatchClient:    clients.CloudWatch,
		ProductsTable:       os.Getenv("PRODUCTS_TABLE"),
		OrdersTable:         os.Getenv("ORDERS_TABLE"),
		IdempotencyTable:    os.Getenv("IDEMPOTENCY_TABLE"),
		QueueURL:            os.Getenv("ORDERS_QUEUE_URL"),
		TTLWindow:           48 * time.Hour,
		DisableTransactions: os.Getenv("CHECKOUT_DISABLE_TRANSACTIONS") == "true",
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := os.Getenv("HTTP_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		log.Infof("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
