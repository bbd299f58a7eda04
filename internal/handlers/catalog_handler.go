package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopcraft/storefront/internal/catalog"
	"github.com/shopcraft/storefront/internal/validation"
)

// RegisterCatalogRoutes registers the product browse and admin routes.
func RegisterCatalogRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	ledger := catalog.NewStore(cfg.DynamoDBClient, cfg.ProductsTable)

	r.GET("/products", func(c *gin.Context) {
		products, err := ledger.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_products_failed"})
			return
		}
		c.JSON(http.StatusOK, products)
	})

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := ledger.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_product_failed"})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.POST("/products", func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var req validation.ProductUpsertRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		p := catalog.Product{
			ProductID:   req.ProductID,
			Name:        req.Name,
			Description: req.Description,
			PriceCents:  req.PriceCents,
			Stock:       req.Stock,
			Image:       req.Image,
			Category:    req.Category,
		}
		if err := ledger.Put(c.Request.Context(), &p); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "put_product_failed"})
			return
		}
		c.JSON(http.StatusCreated, p)
	})
}
