package purchases

import (
	"context"

	"gorm.io/gorm"

	"github.com/foundermark/friended-backend/pkg/db/models"
)

// Catalog looks up purchasable products by App Store identifier.
type Catalog interface {
	WithTx(tx *gorm.DB) Catalog
	FindByAppleProductID(ctx context.Context, appleProductID string) (*models.ProductType, error)
}

type catalog struct {
	db *gorm.DB
}

// NewCatalog returns a product catalog bound to the provided database.
func NewCatalog(db *gorm.DB) Catalog {
	return &catalog{db: db}
}

func (c *catalog) WithTx(tx *gorm.DB) Catalog {
	if tx == nil {
		return c
	}
	return &catalog{db: tx}
}

func (c *catalog) FindByAppleProductID(ctx context.Context, appleProductID string) (*models.ProductType, error) {
	var product models.ProductType
	if err := c.db.WithContext(ctx).
		Where("apple_product_id = ? AND enabled = ?", appleProductID, true).
		First(&product).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}
