// Package products matches detected objects against a retail catalog so each
// object in a render can carry shoppable product links.
package products

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/maincase/mdesign-backend/internal/domain"
	"github.com/maincase/mdesign-backend/internal/imagecodec"
)

// Matcher finds catalog products resembling one detected object. The object
// region is cropped out of the render before the lookup.
type Matcher interface {
	MatchObject(ctx context.Context, render []byte, object domain.DetectedObject) ([]domain.Product, error)
}

// Config tunes the Vision product-search matcher.
type Config struct {
	// ProductSet is the full resource name of the indexed catalog, e.g.
	// projects/p/locations/l/productSets/s.
	ProductSet      string
	ProductCategory string
	CredentialsFile string
	// Limit caps products returned per object.
	Limit    int
	MinScore float64
}

// VisionMatcher looks up products through the Google Vision product-search
// API against a pre-indexed catalog of furniture listings.
type VisionMatcher struct {
	client *vision.ImageAnnotatorClient
	cfg    Config
}

// NewVisionMatcher creates a matcher. credentialsFile may be empty, in which
// case application default credentials apply.
func NewVisionMatcher(ctx context.Context, cfg Config) (*VisionMatcher, error) {
	if strings.TrimSpace(cfg.ProductSet) == "" {
		return nil, errors.New("products: product set is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("products: vision client: %w", err)
	}
	return &VisionMatcher{client: client, cfg: cfg}, nil
}

// MatchObject crops the object's region out of the render and searches the
// catalog for look-alike products, best scores first.
func (m *VisionMatcher) MatchObject(ctx context.Context, render []byte, object domain.DetectedObject) ([]domain.Product, error) {
	crop, err := imagecodec.Crop(render, object.Box)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: crop},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_PRODUCT_SEARCH, MaxResults: int32(m.cfg.Limit)},
		},
		ImageContext: &visionpb.ImageContext{
			ProductSearchParams: &visionpb.ProductSearchParams{
				ProductSet:        m.cfg.ProductSet,
				ProductCategories: []string{m.cfg.ProductCategory},
			},
		},
	}
	resp, err := m.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return nil, fmt.Errorf("products: annotate: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("products: annotate error: %s", r0.Error.Message)
	}
	if r0.ProductSearchResults == nil {
		return nil, nil
	}

	var out []domain.Product
	for _, result := range r0.ProductSearchResults.Results {
		if result == nil || result.Product == nil {
			continue
		}
		if float64(result.Score) < m.cfg.MinScore {
			continue
		}
		asin := productASIN(result.Product)
		if asin == "" {
			continue
		}
		out = append(out, domain.Product{
			ASIN: asin,
			Link: "https://www.amazon.com/dp/" + asin,
		})
		if len(out) >= m.cfg.Limit {
			break
		}
	}
	return out, nil
}

// Close releases the underlying client.
func (m *VisionMatcher) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// productASIN reads the catalog id from the indexed product. Catalog entries
// carry their ASIN as a product label; the display name is the fallback used
// by older index builds.
func productASIN(p *visionpb.Product) string {
	for _, label := range p.ProductLabels {
		if label != nil && strings.EqualFold(label.Key, "asin") {
			return label.Value
		}
	}
	return strings.TrimSpace(p.DisplayName)
}

var _ Matcher = (*VisionMatcher)(nil)
